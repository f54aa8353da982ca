package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitStructuredWritesJSON(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	Init(Options{Structured: true, Out: &buf})

	logger := Component(log.Logger, "verify")
	logger.Info().Str(FieldPath, "/tmp/out.mp4").Msg("probe complete")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "verify", line[FieldComponent])
	assert.Equal(t, "/tmp/out.mp4", line[FieldPath])
	assert.Equal(t, "probe complete", line["message"])
}

func TestInitVerboseEnablesDebug(t *testing.T) {
	prev, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	Init(Options{Structured: true, Out: &buf})
	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	Init(Options{Structured: true, Verbose: true, Out: &buf})
	log.Debug().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestComponentTagsChild(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(zerolog.New(&buf), "compose")
	logger.Info().Msg("x")
	assert.Contains(t, buf.String(), `"component":"compose"`)
}
