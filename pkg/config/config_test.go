package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hubmakerlabs/localstr/pkg/slog"
	"github.com/Hubmakerlabs/localstr/pkg/units"
	"github.com/alexflint/go-arg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	c := Default()
	c.DataDir = t.TempDir()
	c.Hold = time.Second
	c.AssetsSize = 64
	require.NoError(t, c.Save(c.Path()))
	var back Config
	require.NoError(t, back.Load(c.Path()))
	assert.Equal(t, time.Second, back.Hold)
	assert.Equal(t, int64(64), back.AssetsSize)
	// the data directory is where the file is, it is not stored in it
	assert.Empty(t, back.DataDir)

	var nilc *Config
	assert.Error(t, nilc.Save(c.Path()))
	assert.Error(t, nilc.Load(c.Path()))
	err := back.Load(filepath.Join(c.DataDir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseOverride(t *testing.T) {
	dir := t.TempDir()
	var args Config
	p, err := arg.NewParser(arg.Config{}, &args)
	require.NoError(t, err)
	require.NoError(t, p.Parse([]string{"-d", dir, "--hold", "2s",
		"--assetssize", "8", "import", "-f", "a.jsonl", "-f", "b.jsonl"}))
	require.NotNil(t, args.ImportCmd)
	assert.Equal(t, []string{"a.jsonl", "b.jsonl"}, args.ImportCmd.FromFile)

	c := Default()
	c.Override(&args)
	assert.Equal(t, dir, c.DataDir)
	assert.Equal(t, 2*time.Second, c.Hold)
	assert.Equal(t, int64(8), c.AssetsSize)
	assert.Equal(t, Default().EventsSize, c.EventsSize)
	assert.NotNil(t, c.ImportCmd)

	o := c.Options()
	assert.Equal(t, int64(8*units.MiB), o.Assets.MapSize)
	assert.Equal(t, c.EvictGrace, o.EvictGrace)
}

func TestLevel(t *testing.T) {
	c := Default()
	l, err := c.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.Info, l)
	c.LogLevel = "nonsense"
	_, err = c.Level()
	assert.Error(t, err)
}
