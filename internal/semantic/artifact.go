package semantic

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Load parses a semantic model artifact and checks its invariants. The
// artifact format is declarative YAML; Load followed by Serialize yields an
// equivalent document.
func Load(r io.Reader) (*Model, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var model Model
	if err := decoder.Decode(&model); err != nil {
		return nil, fmt.Errorf("decode model artifact: %w", err)
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact: %w", err)
	}
	return &model, nil
}

// LoadBytes is Load over an in-memory artifact.
func LoadBytes(raw []byte) (*Model, error) {
	return Load(bytes.NewReader(raw))
}

// Serialize renders the model back to its YAML artifact form.
func Serialize(model *Model) ([]byte, error) {
	raw, err := yaml.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("encode model artifact: %w", err)
	}
	return raw, nil
}
