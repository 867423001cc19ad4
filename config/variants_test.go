package config

import (
	"strings"
	"testing"

	"github.com/glimte/osip-go/contracts"
	"github.com/glimte/osip-go/serialization"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const table = `
variants:
  - type: STAT
    reply: true
    description: station status
    key: receiver
    fields:
      - {name: station, kind: string, width: 8}
      - {name: count, kind: numeric, width: 4}
      - {name: seen, kind: time}
  - type: HBT_
    fields: []
`

func TestLoadVariants(t *testing.T) {
	vt, err := LoadVariants(strings.NewReader(table))
	require.NoError(t, err)
	require.Len(t, vt.Variants, 2)

	builder := serialization.NewRegistryBuilder()
	require.NoError(t, vt.Register(builder))
	registry := builder.Build()

	stat, err := registry.Lookup("STAT")
	require.NoError(t, err)
	assert.True(t, stat.RequiresReply)
	assert.Equal(t, "station status", stat.Description)
	require.NotNil(t, stat.CorrelationKey)
	assert.Equal(t, "PLC9", stat.CorrelationKey(contracts.Header{Receiver: "PLC9", Sender: "X"}))

	hbt, err := registry.Lookup("HBT_")
	require.NoError(t, err)
	assert.True(t, hbt.IsWithoutReply())
	assert.Nil(t, hbt.CorrelationKey)

	body, err := stat.Codec.DecodeBody(contracts.Header{Type: "STAT"}, []byte("ST-01   004220240131235959"))
	require.NoError(t, err)
	rec, ok := body.(*serialization.Record)
	require.True(t, ok)
	assert.Equal(t, "STAT", rec.TelegramType())
	assert.Equal(t, "ST-01", rec.Values.String("station"))
}

func TestLoadVariantsRejectsUnknownKeys(t *testing.T) {
	_, err := LoadVariants(strings.NewReader(`
variants:
  - type: STAT
    fields:
      - {name: station, kind: string, widht: 8}
`))
	assert.ErrorContains(t, err, "widht")
}

func TestLoadVariantsEmpty(t *testing.T) {
	vt, err := LoadVariants(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, vt.Variants)
}

func TestVariantTableRegisterErrors(t *testing.T) {
	tests := []struct {
		name  string
		table string
		want  string
	}{
		{
			name:  "unknown kind",
			table: "variants:\n  - type: STAT\n    fields:\n      - {name: a, kind: float, width: 4}\n",
			want:  "unknown field kind",
		},
		{
			name:  "unknown key",
			table: "variants:\n  - type: STAT\n    key: barcode\n",
			want:  "unknown correlation key",
		},
		{
			name:  "zero width",
			table: "variants:\n  - type: STAT\n    fields:\n      - {name: a, kind: string}\n",
			want:  "positive width",
		},
		{
			name:  "duplicate type",
			table: "variants:\n  - type: STAT\n  - type: STAT\n",
			want:  "already registered",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vt, err := LoadVariants(strings.NewReader(tt.table))
			require.NoError(t, err)
			err = vt.Register(serialization.NewRegistryBuilder())
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadVariantsFile(t *testing.T) {
	path := writeFile(t, "variants.yaml", table)
	vt, err := LoadVariantsFile(path)
	require.NoError(t, err)
	assert.Len(t, vt.Variants, 2)

	_, err = LoadVariantsFile(path + ".missing")
	assert.Error(t, err)
}
