// Package runctx provides the immutable per-run configuration context shared
// by every task execution in a run. A Context is built once from layered
// sources, resolves ENV: indirections against the process environment, and is
// never mutated afterwards, which makes it safe to share across concurrently
// running tasks.
package runctx

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/v2"
	"github.com/spf13/cast"
)

// Reserved keys interpreted by the Context itself.
const (
	KeySandbox = "sandbox"
	KeyWorkDir = "workdir"
	KeyTempDir = "tempdir"
)

// envPrefix marks values that are resolved from the process environment at
// load time. Supported forms:
//
//	ENV:NAME          -> value of $NAME, load error when unset
//	ENV:NAME:default  -> value of $NAME, or "default" when unset
const envPrefix = "ENV:"

// ErrConfig is the sentinel for any context-loading failure.
var ErrConfig = errors.New("invalid run configuration")

// ConfigError wraps ErrConfig with the offending key.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config key %q: %s", e.Key, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// Context is the read-only configuration bag for a single run.
type Context struct {
	values    map[string]interface{}
	sandboxed bool
	workDir   string
	tempDir   string
}

// Load builds a Context from the given sources, applied in priority order
// (lowest first). After merging, every string value with the ENV: prefix is
// replaced by the corresponding environment variable.
func Load(sources ...Source) (*Context, error) {
	k := koanf.New(".")

	ordered := sortSources(sources)
	for _, src := range ordered {
		if err := src.Load(k); err != nil {
			return nil, fmt.Errorf("load source %s: %w", src.Name(), err)
		}
	}

	values := make(map[string]interface{}, len(k.Keys()))
	for _, key := range k.Keys() {
		val := k.Get(key)
		resolved, err := resolveEnv(key, val)
		if err != nil {
			return nil, err
		}
		values[key] = resolved
	}

	ctx := &Context{values: values}
	ctx.sandboxed = cast.ToBool(values[KeySandbox])

	ctx.workDir = cast.ToString(values[KeyWorkDir])
	if ctx.workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, &ConfigError{Key: KeyWorkDir, Reason: err.Error()}
		}
		ctx.workDir = wd
	}

	ctx.tempDir = cast.ToString(values[KeyTempDir])
	if ctx.tempDir == "" {
		ctx.tempDir = os.TempDir()
	}

	return ctx, nil
}

// resolveEnv expands an ENV:NAME or ENV:NAME:default value. Non-string and
// non-indirect values pass through untouched.
func resolveEnv(key string, val interface{}) (interface{}, error) {
	s, ok := val.(string)
	if !ok || !strings.HasPrefix(s, envPrefix) {
		return val, nil
	}

	spec := strings.TrimPrefix(s, envPrefix)
	name, fallback, hasFallback := strings.Cut(spec, ":")
	if name == "" {
		return nil, &ConfigError{Key: key, Reason: "empty environment variable name"}
	}

	if env, found := os.LookupEnv(name); found {
		return env, nil
	}
	if hasFallback {
		return fallback, nil
	}
	return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("environment variable %s is not set and no default is declared", name)}
}

// Get returns the value stored under key, or def when the key is absent.
func (c *Context) Get(key string, def interface{}) interface{} {
	if v, ok := c.values[key]; ok {
		return v
	}
	return def
}

// GetString returns the value under key coerced to a string.
func (c *Context) GetString(key, def string) string {
	if v, ok := c.values[key]; ok {
		return cast.ToString(v)
	}
	return def
}

// GetInt returns the value under key coerced to an int.
func (c *Context) GetInt(key string, def int) int {
	if v, ok := c.values[key]; ok {
		return cast.ToInt(v)
	}
	return def
}

// GetBool returns the value under key coerced to a bool.
func (c *Context) GetBool(key string, def bool) bool {
	if v, ok := c.values[key]; ok {
		return cast.ToBool(v)
	}
	return def
}

// GetDuration returns the value under key coerced to a duration.
func (c *Context) GetDuration(key string, def time.Duration) time.Duration {
	if v, ok := c.values[key]; ok {
		if d, err := cast.ToDurationE(v); err == nil {
			return d
		}
	}
	return def
}

// Has reports whether key is present.
func (c *Context) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// All returns a shallow copy of every resolved key/value pair.
func (c *Context) All() map[string]interface{} {
	out := make(map[string]interface{}, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Sandboxed reports whether tasks in this run should treat the host as
// off-limits and confine side effects to the workspace.
func (c *Context) Sandboxed() bool { return c.sandboxed }

// WorkDir returns the run's working directory.
func (c *Context) WorkDir() string { return c.workDir }

// TempDir returns the run's scratch directory.
func (c *Context) TempDir() string { return c.tempDir }
