package printer

import (
	"bytes"
	"testing"

	"github.com/dyluth/bingo/pkg/ledger"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	prevOut, prevErr, prevNoColor := stdout, stderr, color.NoColor
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	SetOutput(out, errOut)
	color.NoColor = true
	t.Cleanup(func() {
		stdout, stderr, color.NoColor = prevOut, prevErr, prevNoColor
	})
	return out, errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("experiment not found", "No experiment named 'foo'.", nil)
		require.Error(t, err)
		assert.Equal(t, "experiment not found", err.Error())
		assert.Contains(t, errOut.String(), "No experiment named 'foo'.")
	})

	t.Run("single suggestion is printed plainly", func(t *testing.T) {
		_, errOut := capture(t)
		Error("bad", "", []string{"bingo experiments list"})
		assert.Contains(t, errOut.String(), "\nbingo experiments list\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, errOut := capture(t)
		Error("bad", "", []string{"first", "second"})
		assert.Contains(t, errOut.String(), "Either:\n  1. first\n  2. second\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, errOut := capture(t)
	err := ErrorWithContext("store unreachable", "Ping failed.", [][2]string{
		{"Driver", "redis"},
		{"URL", "redis://localhost:6379/0"},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, "store unreachable", err.Error())
	assert.Contains(t, errOut.String(), "  Driver: redis\n  URL: redis://localhost:6379/0\n")
}

func TestSuccessAndWarning(t *testing.T) {
	out, errOut := capture(t)

	Success("created %s\n", "button_color")
	Success("✓ already prefixed\n")
	Warning("store is %s\n", "slow")

	assert.Equal(t, "✓ created button_color\n✓ already prefixed\n", out.String())
	assert.Equal(t, "⚠️  store is slow\n", errOut.String())
}

func TestStatus(t *testing.T) {
	capture(t)
	assert.Equal(t, "live", Status(ledger.StatusLive))
	assert.Equal(t, "retired", Status(ledger.StatusRetired))
}
