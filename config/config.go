// Package config loads engine configuration from one YAML file or a
// directory of YAML files merged in lexical order, and supports live reload
// on SIGHUP for the settings that can change at runtime (logging, stats).
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"dario.cat/mergo"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

type C struct {
	path        string
	files       []string
	Settings    map[string]any
	oldSettings map[string]any
	callbacks   []func(*C)
	l           *logrus.Logger
	reloadLock  sync.Mutex
}

func NewC(l *logrus.Logger) *C {
	return &C{
		Settings: make(map[string]any),
		l:        l,
	}
}

// Load reads every yaml file under path (or path itself if it is a file) and
// merges them in lexical order.
func (c *C) Load(path string) error {
	c.path = path
	c.files = c.files[:0]

	err := c.resolve(path, true)
	if err != nil {
		return err
	}
	if len(c.files) == 0 {
		return fmt.Errorf("no config files found at %s", path)
	}
	sort.Strings(c.files)

	return c.parse()
}

func (c *C) LoadString(raw string) error {
	if raw == "" {
		return errors.New("empty configuration")
	}
	var m map[string]any
	if err := yaml.Unmarshal([]byte(raw), &m); err != nil {
		return err
	}
	c.Settings = m
	return nil
}

// RegisterReloadCallback stores a function to run after a config reload.
// Callbacks decide for themselves whether anything they care about changed;
// HasChanged helps with that.
func (c *C) RegisterReloadCallback(f func(*C)) {
	c.callbacks = append(c.callbacks, f)
}

// HasChanged reports whether the value under key k differs between the
// current and previous settings. An empty key compares everything.
func (c *C) HasChanged(k string) bool {
	if c.oldSettings == nil {
		return false
	}
	var nv, ov any
	if k == "" {
		nv, ov = c.Settings, c.oldSettings
	} else {
		nv = c.get(k, c.Settings)
		ov = c.get(k, c.oldSettings)
	}
	newVals, err := yaml.Marshal(nv)
	if err != nil {
		c.l.WithField("config_path", k).WithError(err).Error("Error while marshaling new config")
	}
	oldVals, err := yaml.Marshal(ov)
	if err != nil {
		c.l.WithField("config_path", k).WithError(err).Error("Error while marshaling old config")
	}
	return string(newVals) != string(oldVals)
}

// CatchHUP reloads the config from the original path whenever SIGHUP
// arrives, until ctx is done.
func (c *C) CatchHUP(ctx context.Context) {
	if c.path == "" {
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(ch)
				close(ch)
				return
			case <-ch:
				c.l.Info("Caught HUP, reloading config")
				c.ReloadConfig()
			}
		}
	}()
}

func (c *C) ReloadConfig() {
	c.reloadLock.Lock()
	defer c.reloadLock.Unlock()

	c.oldSettings = make(map[string]any, len(c.Settings))
	for k, v := range c.Settings {
		c.oldSettings[k] = v
	}

	if err := c.Load(c.path); err != nil {
		c.l.WithField("config_path", c.path).WithError(err).Error("Error occurred while reloading config")
		return
	}
	for _, f := range c.callbacks {
		f(c)
	}
}

// GetString returns the string value under k, or d if the key is absent.
func (c *C) GetString(k, d string) string {
	r := c.Get(k)
	if r == nil {
		return d
	}
	return fmt.Sprintf("%v", r)
}

// GetInt returns the int value under k, or d if the key is absent or not an
// integer.
func (c *C) GetInt(k string, d int) int {
	r := c.Get(k)
	switch v := r.(type) {
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return d
}

// GetBool returns the bool value under k, accepting yaml bools and the usual
// string spellings, or d if absent.
func (c *C) GetBool(k string, d bool) bool {
	r := c.Get(k)
	switch v := r.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return d
}

// GetDuration returns the duration under k, or d when absent or unparsable.
func (c *C) GetDuration(k string, d time.Duration) time.Duration {
	r := c.GetString(k, "")
	if r == "" {
		return d
	}
	v, err := time.ParseDuration(r)
	if err != nil {
		return d
	}
	return v
}

// Get returns the raw value at the dotted path k, or nil.
func (c *C) Get(k string) any {
	return c.get(k, c.Settings)
}

func (c *C) IsSet(k string) bool {
	return c.Get(k) != nil
}

func (c *C) get(k string, v any) any {
	parts := splitKey(k)
	for _, p := range parts {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v, ok = m[p]
		if !ok {
			return nil
		}
	}
	return v
}

func splitKey(k string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(k); i++ {
		if i == len(k) || k[i] == '.' {
			parts = append(parts, k[start:i])
			start = i + 1
		}
	}
	return parts
}

// resolve walks path, collecting yaml files. Directories are entered one
// level deep, which is how drop-in config directories are laid out.
func (c *C) resolve(path string, direct bool) error {
	i, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if !i.IsDir() {
		c.addFile(path, direct)
		return nil
	}
	paths, err := readDirNames(path)
	if err != nil {
		return fmt.Errorf("problem while reading directory %s: %s", path, err)
	}
	for _, p := range paths {
		err = c.resolve(filepath.Join(path, p), false)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *C) addFile(path string, direct bool) {
	ext := filepath.Ext(path)
	if !direct && ext != ".yaml" && ext != ".yml" {
		return
	}
	c.files = append(c.files, path)
}

func (c *C) parse() error {
	var m map[string]any
	for _, path := range c.files {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var nm map[string]any
		if err := yaml.Unmarshal(b, &nm); err != nil {
			return err
		}
		// Later files win on conflicting keys.
		if err := mergo.Merge(&nm, m, mergo.WithAppendSlice); err != nil {
			return err
		}
		m = nm
	}
	c.Settings = m
	return nil
}

func readDirNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	paths, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
