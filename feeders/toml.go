package feeders

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/golobby/config/v3/pkg/feeder"
)

// TomlFeeder is a feeder that reads TOML files
type TomlFeeder struct {
	feeder.Toml
}

// NewTomlFeeder creates a new TomlFeeder that reads from the specified TOML file
func NewTomlFeeder(filePath string) TomlFeeder {
	return TomlFeeder{feeder.Toml{Path: filePath}}
}

// FeedKey decodes the top-level table named key into target. A missing key
// leaves target untouched.
func (t TomlFeeder) FeedKey(key string, target any) error {
	var tables map[string]toml.Primitive
	md, err := toml.DecodeFile(t.Path, &tables)
	if err != nil {
		return fmt.Errorf("toml %s: %w", t.Path, err)
	}
	table, ok := tables[key]
	if !ok {
		return nil
	}
	if err := md.PrimitiveDecode(table, target); err != nil {
		return fmt.Errorf("toml %s: table %q: %w", t.Path, key, err)
	}
	return nil
}
