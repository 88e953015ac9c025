package main

import (
	"testing"

	gxlink "github.com/Gurux/gxlink-go"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_TerminatorAndReadTimeout(t *testing.T) {
	*term = `\r\n`
	*r = 250
	t.Cleanup(func() {
		*term = `\n`
		*r = gxlink.NoTimeout
	})
	config, err := newConfig()
	require.NoError(t, err)
	require.Equal(t, "\r\n", config.Terminator())
	require.Equal(t, 250, config.ReadTimeout())
}

func TestNewConfig_Defaults(t *testing.T) {
	config, err := newConfig()
	require.NoError(t, err)
	require.Equal(t, "\n", config.Terminator())
	require.Equal(t, gxlink.NoTimeout, config.ReadTimeout())
}

func TestNewConfig_InvalidTerminator(t *testing.T) {
	*term = `\`
	t.Cleanup(func() { *term = `\n` })
	_, err := newConfig()
	require.Error(t, err)

	*term = "abc"
	_, err = newConfig()
	require.Error(t, err)
}
