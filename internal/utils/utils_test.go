package utils

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret(""))
	assert.Equal(t, "*****", MaskSecret("short"))
	assert.Equal(t, "sk-a*****yz", MaskSecret("sk-abcdefghijklmnopqrstuvwxyz"))
}

func TestMultiLogHandler(t *testing.T) {
	var debugBuf, warnBuf bytes.Buffer
	debug := slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	warn := slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn})

	logger := slog.New(NewMultiLogHandler(debug, warn)).With("run", "r1").WithGroup("pull")
	logger.Debug("page", "n", 1)
	logger.Warn("retry", "kind", "network")

	assert.Equal(t, 2, strings.Count(debugBuf.String(), "run=r1"))
	assert.Contains(t, debugBuf.String(), "pull.n=1")
	assert.NotContains(t, warnBuf.String(), "msg=page")
	assert.Contains(t, warnBuf.String(), "pull.kind=network")

	quiet := NewMultiLogHandler(warn)
	assert.False(t, quiet.Enabled(context.Background(), slog.LevelInfo))
}
