package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/codefionn/transports/internal/demo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCounter(t *testing.T) {
	name, value, err := parseCounter(" hits = 3 ")
	require.NoError(t, err)
	assert.Equal(t, "hits", name)
	assert.Equal(t, 3, value)

	for _, bad := range []string{"hits", "=3", "hits=x"} {
		_, _, err := parseCounter(bad)
		assert.Error(t, err, bad)
	}
}

func TestPrintBoard(t *testing.T) {
	var buf bytes.Buffer
	printBoard(&buf, demo.NewBoard("ops", demo.NewCounter("b", 2), demo.NewCounter("a", 1)))
	assert.Equal(t, "[ops] a=1 b=2\n", buf.String())
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "--log-level", "none", "config", "init"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[client]")
	assert.Contains(t, string(data), "[server]")
}
