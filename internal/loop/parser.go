package loop

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Category classifies a failure record
type Category string

const (
	CategoryCompile       Category = "compile"
	CategoryTest          Category = "test"
	CategoryDependency    Category = "dependency"
	CategoryConfiguration Category = "configuration"
	CategoryTool          Category = "tool" // the tool could not be run
	CategoryFix           Category = "fix"  // the fixer failed
	CategoryUnknown       Category = "unknown"
)

// Failure is one structured failure parsed from tool output. Artifact is the
// tree-relative file the failure originates from, when the output names one.
type Failure struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
	Artifact string   `json:"artifact,omitempty"`
	Line     int      `json:"line,omitempty"`
}

// BuildResult is the outcome of one iteration
type BuildResult struct {
	Iteration int       `json:"iteration"`
	Phase     Phase     `json:"phase"`
	Success   bool      `json:"success"`
	ExitCode  int       `json:"exit_code"`
	Failures  []Failure `json:"failures"`
	// Output is the tail of the tool output
	Output string `json:"output,omitempty"`
}

type pattern struct {
	re       *regexp.Regexp
	category Category
	// submatch indexes, 0 when the pattern does not capture them
	file, line, class, message int
}

var patterns = []pattern{
	// [ERROR] /src/main/java/com/example/Foo.java:[12,8] cannot find symbol
	{regexp.MustCompile(`^\[ERROR\]\s+(\S+\.(?:java|kt)):\[(\d+),\d+\]\s*(.*)$`), CategoryCompile, 1, 2, 0, 3},
	// /src/main/java/com/example/Foo.java:12: error: cannot find symbol
	{regexp.MustCompile(`^(\S+\.java):(\d+): error: (.*)$`), CategoryCompile, 1, 2, 0, 3},
	// e: file:///src/main/kotlin/Foo.kt:12:5 Unresolved reference
	{regexp.MustCompile(`^e: (?:file://)?(\S+\.kt):(\d+):\d+ (.*)$`), CategoryCompile, 1, 2, 0, 3},
	// [ERROR]   InventoryTest.decrementsStock:42 expected: <1> but was: <2>
	{regexp.MustCompile(`^\[ERROR\]\s+(\w+)\.(\w+):(\d+)\s+(.*)$`), CategoryTest, 0, 3, 1, 4},
	// [ERROR]   InventoryTest.decrementsStock » NullPointer
	{regexp.MustCompile(`^\[ERROR\]\s+(\w+)\.(\w+)\s+»\s+(.*)$`), CategoryTest, 0, 0, 1, 3},
	// InventoryTest > decrementsStock() FAILED
	{regexp.MustCompile(`^(\w+) > (.+) FAILED$`), CategoryTest, 0, 0, 1, 2},
	{regexp.MustCompile(`(Could not resolve dependencies for project .*)$`), CategoryDependency, 0, 0, 0, 1},
	{regexp.MustCompile(`(Could not find artifact \S+.*)$`), CategoryDependency, 0, 0, 0, 1},
	{regexp.MustCompile(`(Could not find [\w.-]+:[\w.-]+:\S+)`), CategoryDependency, 0, 0, 0, 1},
	{regexp.MustCompile(`(Could not resolve all (?:files|dependencies|artifacts) for configuration .*)$`), CategoryDependency, 0, 0, 0, 1},
	// [FATAL] Non-parseable POM /tmp/inventory/pom.xml: ...
	{regexp.MustCompile(`Non-parseable POM (\S+?):?\s+(.*)$`), CategoryConfiguration, 1, 0, 0, 2},
	{regexp.MustCompile(`(Non-resolvable parent POM.*)$`), CategoryConfiguration, 0, 0, 0, 1},
	{regexp.MustCompile(`(there is no POM in this directory.*)$`), CategoryConfiguration, 0, 0, 0, 1},
	// Build file '/tmp/inventory/build.gradle' line: 7
	{regexp.MustCompile(`Build file '([^']+)' line: (\d+)`), CategoryConfiguration, 1, 2, 0, 0},
	{regexp.MustCompile(`(APPLICATION FAILED TO START)`), CategoryConfiguration, 0, 0, 0, 1},
}

// ParseFailures extracts failure records from build or test tool output.
// Files named in the output are made relative to root, and test classes are
// resolved to their source file under root.
func ParseFailures(output, root string) []Failure {
	var failures []Failure
	seen := make(map[Failure]bool)
	var classes map[string]string

	for _, raw := range strings.Split(output, "\n") {
		line := strings.TrimRight(raw, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		for _, p := range patterns {
			match := p.re.FindStringSubmatch(trimmed)
			if match == nil {
				continue
			}

			f := Failure{Category: p.category}
			if p.message > 0 {
				f.Message = strings.TrimSpace(match[p.message])
			}
			if p.file > 0 {
				f.Artifact = relativeTo(root, match[p.file])
			}
			if p.line > 0 {
				f.Line, _ = strconv.Atoi(match[p.line])
			}
			if p.class > 0 {
				if classes == nil {
					classes = indexClasses(root)
				}
				f.Artifact = classes[match[p.class]]
				if f.Message == "" {
					f.Message = match[p.class]
				} else {
					f.Message = match[p.class] + ": " + f.Message
				}
			}
			if f.Message == "" {
				f.Message = trimmed
			}

			if !seen[f] {
				seen[f] = true
				failures = append(failures, f)
			}
			break
		}
	}
	return failures
}

// unparsedFailure summarizes output no pattern recognized
func unparsedFailure(o Outcome) Failure {
	message := tail(o.Output, 20)
	if message == "" {
		message = "exited with code " + strconv.Itoa(o.ExitCode)
	}
	return Failure{Category: CategoryUnknown, Message: message}
}

func tail(output string, n int) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func relativeTo(root, file string) string {
	if root == "" || !filepath.IsAbs(file) {
		return filepath.ToSlash(file)
	}
	rel, err := filepath.Rel(root, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(file)
	}
	return filepath.ToSlash(rel)
}

// indexClasses maps Java and Kotlin class names to their paths under root
func indexClasses(root string) map[string]string {
	index := make(map[string]string)
	if root == "" {
		return index
	}

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if name := d.Name(); name == "target" || name == "build" || strings.HasPrefix(name, ".") {
				if path != root {
					return filepath.SkipDir
				}
			}
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".java" && ext != ".kt" {
			return nil
		}
		class := strings.TrimSuffix(d.Name(), ext)
		if _, exists := index[class]; !exists {
			index[class] = relativeTo(root, path)
		}
		return nil
	})
	return index
}
