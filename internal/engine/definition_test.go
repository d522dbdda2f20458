package engine

import (
	"testing"

	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefinition(t *testing.T) {
	t.Run("absent params keep defaults", func(t *testing.T) {
		def, err := ParseDefinition("", "")
		require.NoError(t, err)
		assert.Nil(t, def.Alternatives)
		assert.Nil(t, def.ConversionNames)

		exp, err := def.experiment("exp")
		require.NoError(t, err)
		assert.Equal(t, ledger.DefaultAlternatives(), exp.Alternatives)
		assert.Equal(t, []string{"exp"}, exp.ConversionNames)
	})

	t.Run("nil definition", func(t *testing.T) {
		var def *Definition
		exp, err := def.experiment("exp")
		require.NoError(t, err)
		assert.Len(t, exp.Alternatives, 2)
	})

	t.Run("weighted object", func(t *testing.T) {
		def, err := ParseDefinition(`{"red": 3, "blue": 1}`, `"click"`)
		require.NoError(t, err)
		require.Len(t, def.Alternatives, 2)
		assert.Equal(t, `"red"`, def.Alternatives[0].Key())
		assert.Equal(t, 3.0, def.Alternatives[0].Weight)
		assert.Equal(t, []string{"click"}, def.ConversionNames)
	})

	t.Run("duplicate conversions collapse", func(t *testing.T) {
		def, err := ParseDefinition("", `["click","buy","click"]`)
		require.NoError(t, err)
		assert.Equal(t, []string{"click", "buy"}, def.ConversionNames)
	})

	for name, tc := range map[string]struct{ alts, convs string }{
		"malformed alternatives": {alts: `[red`},
		"scalar alternatives":    {alts: `42`},
		"empty alternative set":  {alts: `[]`},
		"negative weight":        {alts: `{"a": -1, "b": 1}`},
		"all zero weights":       {alts: `{"a": 0, "b": 0}`},
		"duplicate values":       {alts: `["a","a"]`},
		"non-string conversion":  {convs: `["click", 3]`},
		"malformed conversions":  {convs: `{`},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDefinition(tc.alts, tc.convs)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}
