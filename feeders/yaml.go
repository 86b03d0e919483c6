package feeders

import (
	"fmt"
	"os"

	"github.com/golobby/config/v3/pkg/feeder"
	"gopkg.in/yaml.v3"
)

// YamlFeeder is a feeder that reads YAML files
type YamlFeeder struct {
	feeder.Yaml
}

// NewYamlFeeder creates a new YamlFeeder that reads from the specified YAML file
func NewYamlFeeder(filePath string) YamlFeeder {
	return YamlFeeder{feeder.Yaml{Path: filePath}}
}

// FeedKey decodes the top-level mapping entry named key into target.
// A missing key leaves target untouched.
func (y YamlFeeder) FeedKey(key string, target any) error {
	content, err := os.ReadFile(y.Path)
	if err != nil {
		return fmt.Errorf("yaml %s: %w", y.Path, err)
	}
	var sections map[string]yaml.Node
	if err := yaml.Unmarshal(content, &sections); err != nil {
		return fmt.Errorf("yaml %s: %w", y.Path, err)
	}
	node, ok := sections[key]
	if !ok {
		return nil
	}
	if err := node.Decode(target); err != nil {
		return fmt.Errorf("yaml %s: section %q: %w", y.Path, key, err)
	}
	return nil
}
