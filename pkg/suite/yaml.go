package suite

import (
	"bytes"
	"fmt"
	"io/ioutil"

	yaml "gopkg.in/yaml.v2"
)

// LoadYAML reads a suite from a YAML file. Keys missing from the setup
// section keep the values of DefaultSetup.
func LoadYAML(path string) (*Suite, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read suite file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML parses a YAML encoded suite. Unknown keys are rejected.
func ParseYAML(data []byte) (*Suite, error) {
	s := &Suite{Setup: DefaultSetup()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.SetStrict(true)
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("unable to decode suite: %w", err)
	}
	return s, nil
}
