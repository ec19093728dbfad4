package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func TestConfigLoad(t *testing.T) {
	l := testLogger()
	dir, err := os.MkdirTemp("", "config-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	// A missing path errors instead of silently loading nothing.
	c := NewC(l)
	err = c.Load(filepath.Join(dir, "nope"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yml"),
		[]byte("can:\n  mode: fd\nspi:\n  speed_hz: 20000000"), 0644))

	c = NewC(l)
	require.NoError(t, c.Load(dir))
	assert.Equal(t, "fd", c.GetString("can.mode", ""))
	assert.Equal(t, 20000000, c.GetInt("spi.speed_hz", 0))
}

func TestConfigMergeOrder(t *testing.T) {
	l := testLogger()
	dir, err := os.MkdirTemp("", "config-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	// Lexically later files win on conflicting keys.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10-base.yml"),
		[]byte("can:\n  mode: classic\n  loopback: false"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20-site.yml"),
		[]byte("can:\n  mode: fd"), 0644))
	// Files without a yaml extension are ignored inside directories.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"),
		[]byte("can:\n  mode: bogus"), 0644))

	c := NewC(l)
	require.NoError(t, c.Load(dir))
	assert.Equal(t, "fd", c.GetString("can.mode", ""))
	assert.False(t, c.GetBool("can.loopback", true), "non-conflicting keys survive the merge")
}

func TestConfigGet(t *testing.T) {
	l := testLogger()
	c := NewC(l)
	require.NoError(t, c.LoadString("outer:\n  inner: hello\n  number: 3\n  truthy: \"yes\"\n  wait: 250ms"))

	assert.Equal(t, "hello", c.GetString("outer.inner", ""))
	assert.Equal(t, "default", c.GetString("outer.missing", "default"))
	assert.Equal(t, 3, c.GetInt("outer.number", 0))
	assert.Equal(t, 7, c.GetInt("outer.inner", 7), "non-integers fall back to the default")
	assert.True(t, c.GetBool("outer.truthy", false))
	assert.Equal(t, 250*time.Millisecond, c.GetDuration("outer.wait", 0))
	assert.Equal(t, time.Second, c.GetDuration("outer.inner", time.Second))
	assert.True(t, c.IsSet("outer.inner"))
	assert.False(t, c.IsSet("outer.missing"))
	assert.Nil(t, c.Get("outer.inner.deeper"))

	assert.Error(t, c.LoadString(""))
}

func TestConfigReload(t *testing.T) {
	l := testLogger()
	dir, err := os.MkdirTemp("", "config-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "c.yml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info"), 0644))

	c := NewC(l)
	require.NoError(t, c.Load(path))

	fired := false
	c.RegisterReloadCallback(func(rc *C) {
		fired = true
		assert.True(t, rc.HasChanged("logging.level"))
		assert.False(t, rc.HasChanged("logging.format"))
	})

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug"), 0644))
	c.ReloadConfig()

	assert.True(t, fired)
	assert.Equal(t, "debug", c.GetString("logging.level", ""))
}

func TestHasChangedBeforeReload(t *testing.T) {
	c := NewC(testLogger())
	require.NoError(t, c.LoadString("a: 1"))
	assert.False(t, c.HasChanged(""), "nothing to compare before the first reload")
}
