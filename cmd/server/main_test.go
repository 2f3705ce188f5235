package main

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acquisition-service/internal/config"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "acquisition-service ")
}

func TestBindFlagsOverridesOnlySetFlags(t *testing.T) {
	root := newRootCommand()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	require.NoError(t, serve.Flags().Parse([]string{"--port", "9999", "--capacity", "64"}))

	v := viper.New()
	require.NoError(t, bindFlags(v, serve.Flags()))
	config.SetDefaults(v)

	assert.Equal(t, "9999", v.GetString("server.port"))
	assert.Equal(t, 64, v.GetInt("store.capacity"))
	assert.Equal(t, "0.0.0.0", v.GetString("server.host"))
	assert.Equal(t, "info", v.GetString("logging.level"))
}
