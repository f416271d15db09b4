package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lacquerai/silhouette/internal/config"
	"github.com/lacquerai/silhouette/internal/server"
)

func TestServeFlags(t *testing.T) {
	defaults := server.DefaultConfig()

	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "p", flag.Shorthand)
	assert.Equal(t, defaults.Port, servePort)

	flag = serveCmd.Flags().Lookup("data-dir")
	require.NotNil(t, flag)
	assert.Empty(t, flag.DefValue)
}

func TestServe_InvalidSettings(t *testing.T) {
	_, stderr, err := executeCommand(t, "serve", "--workers", "0", "--port", "0")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfiguration)
	assert.Contains(t, normalize(stderr), "workers")
}
