package feeders

import "fmt"

// KeyFeeder decodes one named section of a configuration source.
type KeyFeeder interface {
	FeedKey(key string, target any) error
}

// SectionFeeder feeds structures from the section under Key of Source,
// which lets several components share one configuration file.
type SectionFeeder struct {
	Key    string
	Source KeyFeeder
}

// NewSectionFeeder creates a SectionFeeder reading key from source
func NewSectionFeeder(key string, source KeyFeeder) SectionFeeder {
	return SectionFeeder{Key: key, Source: source}
}

// Feed implements config.Feeder
func (f SectionFeeder) Feed(structure any) error {
	if err := f.Source.FeedKey(f.Key, structure); err != nil {
		return fmt.Errorf("section %s: %w", f.Key, err)
	}
	return nil
}
