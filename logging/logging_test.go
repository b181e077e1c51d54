package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewFormats(t *testing.T) {
	for _, format := range []string{"", "text", "TEXT", "json"} {
		logger, err := New(format)
		require.NoError(t, err, format)
		require.NotNil(t, logger)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestComponent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	Component(zap.New(core), "pipeline").Info("Starting pipeline run")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pipeline", entries[0].ContextMap()["component"])

	assert.NotPanics(t, func() { Component(nil, "x").Info("ignored") })
}
