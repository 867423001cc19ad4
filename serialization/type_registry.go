package serialization

import (
	"fmt"
	"sort"
	"time"

	"github.com/glimte/osip-go/contracts"
)

// Codec encodes and decodes the body of one telegram variant
type Codec interface {
	// DecodeBody decodes the bytes following the header
	DecodeBody(header contracts.Header, body []byte) (contracts.Body, error)

	// EncodeBody encodes a body of the variant's type
	EncodeBody(body contracts.Body) ([]byte, error)
}

// Zoned is implemented by codecs whose bodies carry timestamps. In returns a
// codec that reads and writes them in loc.
type Zoned interface {
	In(loc *time.Location) Codec
}

// KeyFunc derives the correlation key of a telegram from its header. Telegrams
// with equal keys are processed one at a time, in receipt order.
type KeyFunc func(header contracts.Header) string

// Variant describes one registered telegram kind
type Variant struct {
	Type           string
	Codec          Codec
	RequiresReply  bool
	CorrelationKey KeyFunc // nil uses the dispatcher default
	Description    string
}

// IsWithoutReply reports whether telegrams of this variant are never answered
func (v Variant) IsWithoutReply() bool {
	return !v.RequiresReply
}

// VariantOption configures a variant at registration
type VariantOption func(*Variant)

// WithCorrelationKey overrides the correlation key for one variant
func WithCorrelationKey(fn KeyFunc) VariantOption {
	return func(v *Variant) {
		v.CorrelationKey = fn
	}
}

// WithDescription attaches a human readable description
func WithDescription(description string) VariantOption {
	return func(v *Variant) {
		v.Description = description
	}
}

// RegistryBuilder collects variants at process start
type RegistryBuilder struct {
	variants map[string]Variant
}

// NewRegistryBuilder creates an empty builder
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{
		variants: make(map[string]Variant),
	}
}

// Register adds a variant. Type identifiers are unique and case-sensitive.
func (b *RegistryBuilder) Register(telegramType string, codec Codec, requiresReply bool, options ...VariantOption) error {
	if err := ValidateType(telegramType); err != nil {
		return err
	}
	if codec == nil {
		return fmt.Errorf("codec for %s cannot be nil", telegramType)
	}
	if _, exists := b.variants[telegramType]; exists {
		return fmt.Errorf("type %s already registered", telegramType)
	}

	v := Variant{
		Type:          telegramType,
		Codec:         codec,
		RequiresReply: requiresReply,
	}
	for _, opt := range options {
		opt(&v)
	}

	b.variants[telegramType] = v
	return nil
}

// IsRegistered checks if a type has been added
func (b *RegistryBuilder) IsRegistered(telegramType string) bool {
	_, exists := b.variants[telegramType]
	return exists
}

// Build returns an immutable registry. The builder may keep collecting
// variants; the returned registry is not affected.
func (b *RegistryBuilder) Build() *Registry {
	variants := make(map[string]Variant, len(b.variants))
	for k, v := range b.variants {
		variants[k] = v
	}
	return &Registry{variants: variants}
}

// Registry maps type identifiers to variants. It is never modified after Build,
// so lookups need no locking.
type Registry struct {
	variants map[string]Variant
}

// In returns a registry whose Zoned codecs use loc for body timestamps
func (r *Registry) In(loc *time.Location) *Registry {
	variants := make(map[string]Variant, len(r.variants))
	for k, v := range r.variants {
		if zoned, ok := v.Codec.(Zoned); ok {
			v.Codec = zoned.In(loc)
		}
		variants[k] = v
	}
	return &Registry{variants: variants}
}

// Lookup finds the variant for an exact type identifier
func (r *Registry) Lookup(telegramType string) (Variant, error) {
	v, exists := r.variants[telegramType]
	if !exists {
		return Variant{}, &contracts.UnknownTelegramTypeError{Type: telegramType}
	}
	return v, nil
}

// IsRegistered checks if a type is registered
func (r *Registry) IsRegistered(telegramType string) bool {
	_, exists := r.variants[telegramType]
	return exists
}

// ListTypes returns all registered type identifiers, sorted
func (r *Registry) ListTypes() []string {
	types := make([]string, 0, len(r.variants))
	for typeName := range r.variants {
		types = append(types, typeName)
	}
	sort.Strings(types)
	return types
}

// Len returns the number of registered variants
func (r *Registry) Len() int {
	return len(r.variants)
}
