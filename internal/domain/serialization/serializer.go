package serialization

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Serializer converts values to and from a textual format.
type Serializer interface {
	Name() string
	ContentType() string
	Serialize(v interface{}) ([]byte, error)
	Deserialize(data []byte, v interface{}) error
}

type jsonSerializer struct{}

func (jsonSerializer) Name() string        { return "json" }
func (jsonSerializer) ContentType() string { return "application/json" }

func (jsonSerializer) Serialize(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

func (jsonSerializer) Deserialize(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

type yamlSerializer struct{}

func (yamlSerializer) Name() string        { return "yaml" }
func (yamlSerializer) ContentType() string { return "application/yaml" }

func (yamlSerializer) Serialize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (yamlSerializer) Deserialize(data []byte, v interface{}) error {
	return yaml.Unmarshal(data, v)
}

type tomlSerializer struct{}

func (tomlSerializer) Name() string        { return "toml" }
func (tomlSerializer) ContentType() string { return "application/toml" }

func (tomlSerializer) Serialize(v interface{}) ([]byte, error) {
	return toml.Marshal(v)
}

func (tomlSerializer) Deserialize(data []byte, v interface{}) error {
	if err := toml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("toml: %w", err)
	}
	return nil
}

// Builtin returns the serializers every installation has.
func Builtin() []Serializer {
	return []Serializer{jsonSerializer{}, yamlSerializer{}, tomlSerializer{}}
}
