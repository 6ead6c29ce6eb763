package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netpulse/internal/config"
	"netpulse/pkg/api"
)

func TestCheckDecoding(t *testing.T) {
	cfg := config.NewConfig()
	assert.NoError(t, checkDecoding(cfg, false))
	assert.NoError(t, checkDecoding(cfg, true))

	cfg.Network.WaitForDecoding = true
	assert.NoError(t, checkDecoding(cfg, true))

	err := checkDecoding(cfg, false)
	require.ErrorIs(t, err, api.ErrDecodingNotReported)
	assert.ErrorContains(t, err, "--json")
}
