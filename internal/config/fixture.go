package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Fixture is a set of topic values read from a TOML file. Keys are topic names.
type Fixture map[string]any

// fixtureFile is the on-disk layout:
//
//	[topics]
//	gear = "3"
//	speed = 212
//
//	[[topics.standings]]
//	position = 1
//	user_name = "A. Driver"
type fixtureFile struct {
	Topics map[string]any `toml:"topics"`
}

// LoadFixture reads topic values from path. A missing [topics] table yields an
// empty fixture.
func LoadFixture(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}

	var file fixtureFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}

	fixture := make(Fixture, len(file.Topics))
	for name, value := range file.Topics {
		fixture[name] = value
	}
	return fixture, nil
}
