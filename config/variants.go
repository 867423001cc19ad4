package config

import (
	"fmt"
	"io"
	"os"

	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/serialization"
	"gopkg.in/yaml.v3"
)

// VariantTable declares telegram variants without Go code. Bodies of these
// variants decode into *serialization.Record.
//
//	variants:
//	  - type: STAT
//	    reply: true
//	    key: sender
//	    fields:
//	      - {name: station, kind: string, width: 8}
//	      - {name: count, kind: numeric, width: 4}
type VariantTable struct {
	Variants []VariantSpec `yaml:"variants"`
}

type VariantSpec struct {
	Type        string      `yaml:"type"`
	Reply       bool        `yaml:"reply"`
	Description string      `yaml:"description"`
	Key         string      `yaml:"key"`
	Fields      []FieldSpec `yaml:"fields"`
}

type FieldSpec struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`
	Width int    `yaml:"width"`
}

// LoadVariants parses a variant table. Unknown keys are rejected so typos in
// field names do not silently change a layout.
func LoadVariants(r io.Reader) (*VariantTable, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var table VariantTable
	if err := dec.Decode(&table); err != nil {
		if err == io.EOF {
			return &table, nil
		}
		return nil, fmt.Errorf("failed to parse variant table: %w", err)
	}
	return &table, nil
}

// LoadVariantsFile parses the variant table at path
func LoadVariantsFile(path string) (*VariantTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open variant table: %w", err)
	}
	defer f.Close()

	return LoadVariants(f)
}

// Register adds every declared variant to builder
func (t *VariantTable) Register(builder *serialization.RegistryBuilder) error {
	for i, v := range t.Variants {
		if err := v.register(builder); err != nil {
			return fmt.Errorf("variant %d (%s): %w", i, v.Type, err)
		}
	}
	return nil
}

func (s VariantSpec) register(builder *serialization.RegistryBuilder) error {
	fields := make([]serialization.Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		kind, err := serialization.ParseKind(f.Kind)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		if kind == serialization.KindTime && f.Width == 0 {
			f.Width = contracts.TimestampWidth
		}
		fields = append(fields, serialization.Field{Name: f.Name, Kind: kind, Width: f.Width})
	}

	layout, err := serialization.NewLayout(s.Type, fields...)
	if err != nil {
		return err
	}

	options := []serialization.VariantOption{serialization.WithDescription(s.Description)}
	key, err := keyFunc(s.Key)
	if err != nil {
		return err
	}
	if key != nil {
		options = append(options, serialization.WithCorrelationKey(key))
	}

	return builder.Register(s.Type, serialization.NewLayoutCodec(layout), s.Reply, options...)
}

func keyFunc(name string) (serialization.KeyFunc, error) {
	switch name {
	case "":
		return nil, nil
	case "sender":
		return func(h contracts.Header) string { return h.Sender }, nil
	case "receiver":
		return func(h contracts.Header) string { return h.Receiver }, nil
	case "sequence":
		return func(h contracts.Header) string { return h.Sequence }, nil
	case "type":
		return func(h contracts.Header) string { return h.Type }, nil
	case "none":
		return func(contracts.Header) string { return "" }, nil
	default:
		return nil, fmt.Errorf("unknown correlation key %q", name)
	}
}
