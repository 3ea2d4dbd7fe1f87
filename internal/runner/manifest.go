package runner

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"skippy/internal/core"
)

// LoadManifest reads the test classes listed in a YAML manifest. Both a bare
// sequence and a mapping with a "tests" key are accepted:
//
//	- com.example.LeftPadderTest
//
//	tests:
//	  - com.example.LeftPadderTest
//
// Order is preserved; duplicates are left for the decision engine to drop.
func LoadManifest(path string) ([]core.ClassName, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test manifest: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse test manifest %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	var names []string
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&names); err != nil {
			return nil, fmt.Errorf("parse test manifest %s: %w", path, err)
		}
	case yaml.MappingNode:
		var m struct {
			Tests []string `yaml:"tests"`
		}
		if err := root.Decode(&m); err != nil {
			return nil, fmt.Errorf("parse test manifest %s: %w", path, err)
		}
		names = m.Tests
	default:
		return nil, fmt.Errorf("parse test manifest %s: expected a list of test classes", path)
	}

	out := make([]core.ClassName, 0, len(names))
	for i, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || strings.ContainsAny(n, "/\\\r\n\x00") {
			return nil, fmt.Errorf("test manifest %s: entry %d: invalid test class %q", path, i+1, n)
		}
		out = append(out, core.ClassName(n))
	}
	return out, nil
}
