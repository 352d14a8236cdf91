package templates

// Target path prefixes. Per-service artifacts live under the service
// directory; shared artifacts live at the output root.
const (
	servicePrefix = "{{.Service.Name}}/"
	mainJava      = servicePrefix + "src/main/java/{{pathOf .Service.Package}}/"
	testJava      = servicePrefix + "src/test/java/{{pathOf .Service.Package}}/"

	// GatewayConfigPath is the shared gateway configuration that services
	// append their routes to
	GatewayConfigPath = "gateway/src/main/resources/application.yml"
	// BrokerDescriptorPath is the shared Kafka compose descriptor
	BrokerDescriptorPath = "infra/kafka/docker-compose.yml"
	// GatewayRoutesPath is the YAML path of the route sequence in the gateway
	// configuration
	GatewayRoutesPath = "spring.cloud.gateway.routes"
)

// SpringBootTemplates returns the built-in template set, one template per
// plan step kind
func SpringBootTemplates() []*Template {
	return []*Template{
		{
			Kind:        "repository",
			Description: "Spring Data repository for an aggregate",
			Files: []*TemplateFile{{
				Name:       "repository/Repository.java",
				TargetPath: mainJava + "domain/{{.Aggregate.Name}}Repository.java",
				Policy:     PolicyOverwrite,
				Content:    repositoryJava,
			}},
		},
		{
			Kind:        "event",
			Description: "Event record",
			Files: []*TemplateFile{{
				Name:       "event/Event.java",
				TargetPath: mainJava + "domain/event/{{.Event.Name}}.java",
				Policy:     PolicyOverwrite,
				Content:    eventJava,
			}},
		},
		{
			Kind:        "entity",
			Description: "JPA entity for an aggregate",
			Files: []*TemplateFile{{
				Name:       "entity/Entity.java",
				TargetPath: mainJava + "domain/{{.Aggregate.Name}}.java",
				Policy:     PolicyOverwrite,
				Content:    entityJava,
			}},
		},
		{
			Kind:        "value-object",
			Description: "Embeddable value object",
			Files: []*TemplateFile{{
				Name:       "value-object/ValueObject.java",
				TargetPath: mainJava + "domain/{{.ValueObject.Name}}.java",
				Policy:     PolicyOverwrite,
				Content:    valueObjectJava,
			}},
		},
		{
			Kind:        "listener",
			Description: "Kafka listener applying the policies triggered by one event",
			Files: []*TemplateFile{{
				Name:       "listener/Listener.java",
				TargetPath: mainJava + "application/{{.Event.Name}}Listener.java",
				Policy:     PolicyOverwrite,
				Content:    listenerJava,
			}},
		},
		{
			Kind:        "rest",
			Description: "REST adapter accepting a command",
			Files: []*TemplateFile{{
				Name:       "rest/Controller.java",
				TargetPath: mainJava + "api/{{.Command.Name}}Controller.java",
				Policy:     PolicyOverwrite,
				Content:    controllerJava,
			}},
		},
		{
			Kind:        "bootstrap",
			Description: "Spring Boot application entry point",
			Files: []*TemplateFile{{
				Name:       "bootstrap/Application.java",
				TargetPath: mainJava + "{{pascal .Service.Name}}Application.java",
				Policy:     PolicyOverwrite,
				Content:    applicationJava,
			}},
		},
		{
			Kind:        "configuration",
			Description: "Service configuration, Kafka topics, and shared broker and gateway descriptors",
			Files: []*TemplateFile{
				{
					Name:       "configuration/application.yml",
					TargetPath: servicePrefix + "src/main/resources/application.yml",
					Policy:     PolicyOverwrite,
					Content:    applicationYAML,
				},
				{
					Name:       "configuration/KafkaConfig.java",
					TargetPath: mainJava + "config/KafkaConfig.java",
					Policy:     PolicyOverwrite,
					Content:    kafkaConfigJava,
				},
				{
					Name:       "shared/docker-compose.yml",
					TargetPath: BrokerDescriptorPath,
					Policy:     PolicyCreateOnly,
					Content:    brokerCompose,
				},
				{
					Name:       "shared/gateway.yml",
					TargetPath: GatewayConfigPath,
					Policy:     PolicyCreateOnly,
					Content:    gatewayYAML,
				},
				{
					Name:       "shared/gateway-route.yml",
					TargetPath: GatewayConfigPath,
					Policy:     PolicyAppendRoute,
					RouteKey:   "{{.Service.Name}}",
					Content:    gatewayRouteYAML,
				},
			},
		},
		{
			Kind:        "build",
			Description: "Maven build descriptor",
			Files: []*TemplateFile{{
				Name:       "build/pom.xml",
				TargetPath: servicePrefix + "pom.xml",
				Policy:     PolicyOverwrite,
				Content:    pomXML,
			}},
		},
		{
			Kind:        "deploy",
			Description: "Container image and Kubernetes manifests",
			Files: []*TemplateFile{
				{
					Name:       "deploy/Dockerfile",
					TargetPath: servicePrefix + "Dockerfile",
					Policy:     PolicyOverwrite,
					Content:    dockerfile,
				},
				{
					Name:       "deploy/deployment.yml",
					TargetPath: servicePrefix + "k8s/deployment.yml",
					Policy:     PolicyOverwrite,
					Content:    deploymentYAML,
				},
				{
					Name:       "deploy/service.yml",
					TargetPath: servicePrefix + "k8s/service.yml",
					Policy:     PolicyOverwrite,
					Content:    serviceYAML,
				},
			},
		},
		{
			Kind:        "test",
			Description: "JUnit skeletons for aggregates and policy handlers",
			Files: []*TemplateFile{
				{
					Name:       "test/EntityTest.java",
					TargetPath: testJava + "domain/{{.Aggregate.Name}}Test.java",
					Policy:     PolicyOverwrite,
					Condition:  `{{eq .Target "aggregate"}}`,
					Content:    entityTestJava,
				},
				{
					Name:       "test/ListenerTest.java",
					TargetPath: testJava + "application/{{.Event.Name}}ListenerTest.java",
					Policy:     PolicyOverwrite,
					Condition:  `{{eq .Target "event"}}`,
					Content:    listenerTestJava,
				},
			},
		},
	}
}

const repositoryJava = `package {{.Service.Package}}.domain;

{{importBlock .Aggregate.Fields}}import org.springframework.data.jpa.repository.JpaRepository;
import org.springframework.stereotype.Repository;

@Repository
public interface {{.Aggregate.Name}}Repository extends JpaRepository<{{.Aggregate.Name}}, {{javaType .Aggregate.IdType}}> {
}
`

const eventJava = `package {{.Service.Package}}.domain.event;

{{importBlock .Event.Fields}}/**
 * Published by {{.Event.Aggregate}} on topic "{{.Event.Topic}}".
 */
public record {{.Event.Name}}({{range $i, $f := .Event.Fields}}{{if $i}}, {{end}}{{javaType $f.Type}} {{$f.Name}}{{end}}) {
}
`

const entityJava = `package {{.Service.Package}}.domain;

{{importBlock .Aggregate.Fields}}import jakarta.persistence.Column;
import jakarta.persistence.Embedded;
import jakarta.persistence.Entity;
import jakarta.persistence.GeneratedValue;
import jakarta.persistence.GenerationType;
import jakarta.persistence.Id;
import jakarta.persistence.Table;

@Entity
@Table(name = "{{snake (plural .Aggregate.Name)}}")
public class {{.Aggregate.Name}} {
{{range .Aggregate.Fields}}
{{- if eq .Name "id"}}
    @Id
    @GeneratedValue(strategy = GenerationType.IDENTITY)
{{- else}}
    @Column(name = "{{snake .Name}}")
{{- end}}
    private {{javaType .Type}} {{.Name}};
{{end}}
{{- if hasKey .Aggregate "ValueObjects"}}
{{- range .Aggregate.ValueObjects}}
    @Embedded
    private {{.}} {{camel .}};
{{end}}
{{- end}}
    public {{.Aggregate.Name}}() {
    }
{{range .Aggregate.Fields}}
    public {{javaType .Type}} get{{pascal .Name}}() {
        return {{.Name}};
    }

    public void set{{pascal .Name}}({{javaType .Type}} {{.Name}}) {
        this.{{.Name}} = {{.Name}};
    }
{{end}}
{{- if hasKey .Aggregate "ValueObjects"}}
{{- range .Aggregate.ValueObjects}}
    public {{.}} get{{.}}() {
        return {{camel .}};
    }
{{end}}
{{- end}}}
`

const valueObjectJava = `package {{.Service.Package}}.domain;

{{importBlock .ValueObject.Fields}}import jakarta.persistence.Embeddable;

@Embeddable
public record {{.ValueObject.Name}}({{range $i, $f := .ValueObject.Fields}}{{if $i}}, {{end}}{{javaType $f.Type}} {{$f.Name}}{{end}}
{{- if hasKey .ValueObject "ValueObjects"}}{{range .ValueObject.ValueObjects}}, {{.}} {{camel .}}{{end}}{{end}}) {
}
`

const listenerJava = `package {{.Service.Package}}.application;

import {{.Service.Package}}.domain.event.{{.Event.Name}};
{{- range .Repositories}}
import {{$.Service.Package}}.domain.{{.}}Repository;
{{- end}}
import java.util.Map;
import org.springframework.kafka.annotation.KafkaListener;
import org.springframework.kafka.core.KafkaTemplate;
import org.springframework.stereotype.Component;
import org.springframework.transaction.annotation.Transactional;

/**
 * Applies the policies triggered by {{.Event.Name}} from topic "{{.Event.Topic}}".
 */
@Component
public class {{.Event.Name}}Listener {

    private final KafkaTemplate<String, Object> kafkaTemplate;
{{- range .Repositories}}
    private final {{.}}Repository {{camel .}}Repository;
{{- end}}

    public {{.Event.Name}}Listener(KafkaTemplate<String, Object> kafkaTemplate
{{- range .Repositories}}, {{.}}Repository {{camel .}}Repository{{end}}) {
        this.kafkaTemplate = kafkaTemplate;
{{- range .Repositories}}
        this.{{camel .}}Repository = {{camel .}}Repository;
{{- end}}
    }

    @KafkaListener(topics = "{{.Event.Topic}}", groupId = "{{.Service.Name}}")
    @Transactional
    public void on{{.Event.Name}}({{.Event.Name}} event) {
{{- range .Policies}}
        {{.Handler}}(event);
{{- end}}
    }
{{range .Policies}}
    void {{.Handler}}({{$.Event.Name}} event) {
{{- if hasKey . "Action"}}
        // {{.Action}} on {{.Aggregate}}
{{- end}}
{{- range .Emits}}
        kafkaTemplate.send("{{.Topic}}", Map.of("event", "{{.Name}}", "trigger", event));
{{- end}}
    }
{{end}}}
`

const controllerJava = `package {{.Service.Package}}.api;

import {{.Service.Package}}.domain.event.{{.Command.Emits}};
import org.springframework.http.ResponseEntity;
import org.springframework.kafka.core.KafkaTemplate;
import org.springframework.web.bind.annotation.PostMapping;
import org.springframework.web.bind.annotation.RequestBody;
import org.springframework.web.bind.annotation.RestController;

@RestController
public class {{.Command.Name}}Controller {

    private final KafkaTemplate<String, Object> kafkaTemplate;

    public {{.Command.Name}}Controller(KafkaTemplate<String, Object> kafkaTemplate) {
        this.kafkaTemplate = kafkaTemplate;
    }

    @PostMapping("/{{.Service.Name}}/{{plural (kebab .Command.Aggregate)}}/{{kebab .Command.Name}}")
    public ResponseEntity<Void> {{camel .Command.Name}}(@RequestBody {{.Command.Emits}} event) {
        kafkaTemplate.send("{{kebab .Command.Emits}}", event);
        return ResponseEntity.accepted().build();
    }
}
`

const applicationJava = `package {{.Service.Package}};

import org.springframework.boot.SpringApplication;
import org.springframework.boot.autoconfigure.SpringBootApplication;

@SpringBootApplication
public class {{pascal .Service.Name}}Application {

    public static void main(String[] args) {
        SpringApplication.run({{pascal .Service.Name}}Application.class, args);
    }
}
`

const applicationYAML = `server:
  port: {{.Service.Port}}
spring:
  application:
    name: {{.Service.Name}}
  kafka:
    bootstrap-servers: ${KAFKA_BOOTSTRAP_SERVERS:localhost:9092}
    consumer:
      group-id: {{.Service.Name}}
      auto-offset-reset: earliest
      value-deserializer: org.springframework.kafka.support.serializer.JsonDeserializer
      properties:
        spring.json.trusted.packages: "{{.Service.Package}}.*"
    producer:
      value-serializer: org.springframework.kafka.support.serializer.JsonSerializer
  datasource:
    url: jdbc:h2:mem:{{.Service.Name}}
  jpa:
    hibernate:
      ddl-auto: update
`

const kafkaConfigJava = `package {{.Service.Package}}.config;

import org.apache.kafka.clients.admin.NewTopic;
import org.springframework.context.annotation.Bean;
import org.springframework.context.annotation.Configuration;
import org.springframework.kafka.config.TopicBuilder;

@Configuration
public class KafkaConfig {
{{range .Topics}}
    @Bean
    public NewTopic {{.Bean}}() {
        return TopicBuilder.name("{{.Topic}}").partitions(1).replicas(1).build();
    }
{{end}}}
`

const brokerCompose = `services:
  zookeeper:
    image: confluentinc/cp-zookeeper:7.6.1
    environment:
      ZOOKEEPER_CLIENT_PORT: 2181
  kafka:
    image: confluentinc/cp-kafka:7.6.1
    depends_on:
      - zookeeper
    ports:
      - "9092:9092"
    environment:
      KAFKA_BROKER_ID: 1
      KAFKA_ZOOKEEPER_CONNECT: zookeeper:2181
      KAFKA_ADVERTISED_LISTENERS: PLAINTEXT://localhost:9092
      KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR: 1
`

const gatewayYAML = `server:
  port: 8080
spring:
  application:
    name: gateway
  cloud:
    gateway:
      routes: []
`

const gatewayRouteYAML = `id: {{.Service.Name}}
uri: http://{{.Service.Name}}:{{.Service.Port}}
predicates:
  - Path=/{{.Service.Name}}/**
`

const pomXML = `<?xml version="1.0" encoding="UTF-8"?>
<project xmlns="http://maven.apache.org/POM/4.0.0"
         xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"
         xsi:schemaLocation="http://maven.apache.org/POM/4.0.0 https://maven.apache.org/xsd/maven-4.0.0.xsd">
  <modelVersion>4.0.0</modelVersion>

  <parent>
    <groupId>org.springframework.boot</groupId>
    <artifactId>spring-boot-starter-parent</artifactId>
    <version>3.3.4</version>
    <relativePath/>
  </parent>

  <groupId>{{.Service.Package}}</groupId>
  <artifactId>{{.Service.Name}}</artifactId>
  <version>{{.Service.Version}}</version>

  <properties>
    <java.version>21</java.version>
  </properties>

  <dependencies>
    <dependency>
      <groupId>org.springframework.boot</groupId>
      <artifactId>spring-boot-starter-web</artifactId>
    </dependency>
    <dependency>
      <groupId>org.springframework.boot</groupId>
      <artifactId>spring-boot-starter-data-jpa</artifactId>
    </dependency>
    <dependency>
      <groupId>org.springframework.kafka</groupId>
      <artifactId>spring-kafka</artifactId>
    </dependency>
    <dependency>
      <groupId>com.h2database</groupId>
      <artifactId>h2</artifactId>
      <scope>runtime</scope>
    </dependency>
    <dependency>
      <groupId>org.springframework.boot</groupId>
      <artifactId>spring-boot-starter-test</artifactId>
      <scope>test</scope>
    </dependency>
    <dependency>
      <groupId>org.springframework.kafka</groupId>
      <artifactId>spring-kafka-test</artifactId>
      <scope>test</scope>
    </dependency>
  </dependencies>

  <build>
    <plugins>
      <plugin>
        <groupId>org.springframework.boot</groupId>
        <artifactId>spring-boot-maven-plugin</artifactId>
      </plugin>
    </plugins>
  </build>
</project>
`

const dockerfile = `FROM eclipse-temurin:21-jre
WORKDIR /app
COPY target/{{.Service.Name}}-{{.Service.Version}}.jar app.jar
EXPOSE {{.Service.Port}}
ENTRYPOINT ["java", "-jar", "app.jar"]
`

const deploymentYAML = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: {{.Service.Name}}
  labels:
    app: {{.Service.Name}}
spec:
  replicas: 1
  selector:
    matchLabels:
      app: {{.Service.Name}}
  template:
    metadata:
      labels:
        app: {{.Service.Name}}
    spec:
      containers:
        - name: {{.Service.Name}}
          image: {{.Service.Name}}:{{.Service.Version}}
          ports:
            - containerPort: {{.Service.Port}}
          env:
            - name: KAFKA_BOOTSTRAP_SERVERS
              value: kafka:9092
`

const serviceYAML = `apiVersion: v1
kind: Service
metadata:
  name: {{.Service.Name}}
spec:
  selector:
    app: {{.Service.Name}}
  ports:
    - port: {{.Service.Port}}
      targetPort: {{.Service.Port}}
`

const entityTestJava = `package {{.Service.Package}}.domain;

import static org.junit.jupiter.api.Assertions.assertNull;

import org.junit.jupiter.api.Test;

class {{.Aggregate.Name}}Test {

    @Test
    void startsEmpty() {
        {{.Aggregate.Name}} {{camel .Aggregate.Name}} = new {{.Aggregate.Name}}();
{{- range .Aggregate.Fields}}
        assertNull({{camel $.Aggregate.Name}}.get{{pascal .Name}}());
{{- end}}
    }
}
`

const listenerTestJava = `package {{.Service.Package}}.application;

import static org.mockito.ArgumentMatchers.any;
import static org.mockito.ArgumentMatchers.eq;
import static org.mockito.Mockito.times;
import static org.mockito.Mockito.verify;

import {{.Service.Package}}.domain.event.{{.Event.Name}};
{{- range .Repositories}}
import {{$.Service.Package}}.domain.{{.}}Repository;
{{- end}}
import org.junit.jupiter.api.Test;
import org.junit.jupiter.api.extension.ExtendWith;
import org.mockito.InjectMocks;
import org.mockito.Mock;
import org.mockito.junit.jupiter.MockitoExtension;
import org.springframework.kafka.core.KafkaTemplate;

@ExtendWith(MockitoExtension.class)
class {{.Event.Name}}ListenerTest {

    @Mock
    private KafkaTemplate<String, Object> kafkaTemplate;
{{- range .Repositories}}

    @Mock
    private {{.}}Repository {{camel .}}Repository;
{{- end}}

    @InjectMocks
    private {{.Event.Name}}Listener listener;

    @Test
    void publishesResultingEvents() {
        listener.on{{.Event.Name}}(new {{.Event.Name}}({{nulls .Event.Fields}}));
{{- range .Publishes}}
        verify(kafkaTemplate, times({{.Count}})).send(eq("{{.Topic}}"), any());
{{- end}}
    }
}
`
