package main

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/openmined/btsync/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.AppName+" "+version.Detailed(), strings.TrimSpace(out))

	out, err = runCLI(t, "version", "--json")
	require.NoError(t, err)
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Get(), info)
}
