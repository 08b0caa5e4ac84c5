package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestInitJSON(t *testing.T) {
	prev := Logger()
	defer SetLogger(prev)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})

	Debug().Msg("hidden")
	Info().Str("content_type", "anime").Msg("page synced")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"content_type":"anime"`)
	assert.Equal(t, 1, strings.Count(out, "\n"))
}
