package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithOutput(&buf), WithLevel(DebugLevel))

	l.Debug().Str("operation", "People").Int("fields", 2).Msg("compiled")
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "debug", rec["level"])
	require.Equal(t, "compiled", rec["message"])
	require.Equal(t, "People", rec["operation"])
	require.Equal(t, float64(2), rec["fields"])
	require.Contains(t, rec, "time")

	t.Run("level filters records", func(t *testing.T) {
		buf.Reset()
		l := New(WithOutput(&buf), WithLevel(WarnLevel))
		l.Info().Msg("hidden")
		require.Empty(t, buf.String())
	})

	t.Run("console format", func(t *testing.T) {
		buf.Reset()
		l := New(WithOutput(&buf), WithConsole())
		l.Info().Str("k", "v").Msg("hello")
		out := buf.String()
		require.True(t, strings.Contains(out, "| INFO  |"), out)
		require.Contains(t, out, "hello")
		require.Contains(t, out, "k=v")
	})
}

func TestFromConfig(t *testing.T) {
	var buf bytes.Buffer
	l, err := FromConfig("WARN", "json", &buf)
	require.NoError(t, err)
	require.Equal(t, WarnLevel, l.GetLevel())

	_, err = FromConfig("loud", "json", &buf)
	require.Error(t, err)
	_, err = FromConfig("", "xml", &buf)
	require.Error(t, err)
}
