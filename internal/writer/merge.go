package writer

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// routeKeyField is the route entry field routes are deduplicated by
const routeKeyField = "id"

// mergeRoute appends a route entry to the sequence at routesPath in the
// existing YAML document, unless an entry with the same key is already there.
// Only the sequence changes; the rest of the document is re-encoded from its
// parsed node tree, comments included. It reports whether the entry was added.
func mergeRoute(existing, routeEntry []byte, key, routesPath string) ([]byte, bool, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(existing, &doc); err != nil {
		return nil, false, fmt.Errorf("invalid YAML: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, false, fmt.Errorf("document is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, false, fmt.Errorf("document root is not a mapping")
	}

	routes, err := lookup(root, routesPath)
	if err != nil {
		return nil, false, err
	}
	switch {
	case routes.Kind == yaml.SequenceNode:
	case routes.Kind == yaml.ScalarNode && routes.Tag == "!!null":
		// "routes:" with no value is an empty sequence
		*routes = yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	default:
		return nil, false, fmt.Errorf("%s is not a sequence", routesPath)
	}

	for _, item := range routes.Content {
		if item.Kind != yaml.MappingNode {
			continue
		}
		if v := mappingValue(item, routeKeyField); v != nil && v.Value == key {
			return existing, false, nil
		}
	}

	entry, err := parseEntry(routeEntry, key)
	if err != nil {
		return nil, false, err
	}
	routes.Content = append(routes.Content, entry)
	// A flow sequence such as "routes: []" becomes a block sequence
	routes.Style = 0

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, false, fmt.Errorf("failed to encode merged document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, false, fmt.Errorf("failed to encode merged document: %w", err)
	}
	return buf.Bytes(), true, nil
}

// lookup walks a dotted path of mapping keys
func lookup(node *yaml.Node, dotted string) (*yaml.Node, error) {
	current := node
	var walked []string
	for _, segment := range strings.Split(dotted, ".") {
		walked = append(walked, segment)
		if current.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("%s is not a mapping", strings.Join(walked[:len(walked)-1], "."))
		}
		next := mappingValue(current, segment)
		if next == nil {
			return nil, fmt.Errorf("%s is missing", strings.Join(walked, "."))
		}
		current = next
	}
	return current, nil
}

// mappingValue returns the value node for key in a mapping node
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func parseEntry(data []byte, key string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid route entry: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("route entry is not a mapping")
	}
	entry := doc.Content[0]
	id := mappingValue(entry, routeKeyField)
	if id == nil || id.Value != key {
		return nil, fmt.Errorf("route entry %s does not match key %q", routeKeyField, key)
	}
	return entry, nil
}
