package runctx

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// Source is a configuration layer that loads values into a koanf instance.
// Sources are applied in priority order (lowest first), so higher priority
// sources override lower ones.
//
// Built-in sources and their priorities:
//   - DefaultsSource (10): hardcoded defaults
//   - FileSource (20): YAML config file
//   - MapSource (25): caller-supplied overrides
//   - EnvSource (30): environment variables (AEGIS_*)
//   - FlagSource (40): command-line flags
type Source interface {
	// Name returns a human-readable name for this source (for logging).
	Name() string

	// Priority returns the load priority. Lower values are loaded first.
	Priority() int

	// Load loads configuration values into the provided koanf instance.
	Load(k *koanf.Koanf) error
}

// DefaultsSource provides baseline values for the reserved keys.
// Priority: 10 (lowest, loaded first)
type DefaultsSource struct{}

func (s *DefaultsSource) Name() string  { return "defaults" }
func (s *DefaultsSource) Priority() int { return 10 }

func (s *DefaultsSource) Load(k *koanf.Koanf) error {
	defaults := map[string]interface{}{
		KeySandbox: false,
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return fmt.Errorf("error loading defaults: %w", err)
	}
	return nil
}

// FileSource loads configuration from a YAML file.
// Priority: 20
type FileSource struct {
	Path string // optional, silently skipped if empty or missing
}

func (s *FileSource) Name() string  { return "file:" + s.Path }
func (s *FileSource) Priority() int { return 20 }

func (s *FileSource) Load(k *koanf.Koanf) error {
	if s.Path == "" {
		return nil
	}

	if _, err := os.Stat(s.Path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error checking config file %s: %w", s.Path, err)
	}

	if err := k.Load(file.Provider(s.Path), yaml.Parser()); err != nil {
		return fmt.Errorf("error loading config file %s: %w", s.Path, err)
	}
	return nil
}

// MapSource loads caller-supplied values, typically programmatic overrides
// from an embedding application.
// Priority: 25
type MapSource struct {
	Values map[string]interface{}
}

func (s *MapSource) Name() string  { return "map" }
func (s *MapSource) Priority() int { return 25 }

func (s *MapSource) Load(k *koanf.Koanf) error {
	if len(s.Values) == 0 {
		return nil
	}
	if err := k.Load(confmap.Provider(s.Values, "."), nil); err != nil {
		return fmt.Errorf("error loading value map: %w", err)
	}
	return nil
}

// EnvSource loads configuration from environment variables. Variables must
// have the AEGIS_ prefix; underscores map to dots:
//
//	AEGIS_SANDBOX     -> sandbox
//	AEGIS_SCAN_TARGET -> scan.target
//
// Priority: 30
type EnvSource struct {
	Prefix string // default: "AEGIS_"
}

func (s *EnvSource) Name() string  { return "env" }
func (s *EnvSource) Priority() int { return 30 }

func (s *EnvSource) Load(k *koanf.Koanf) error {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "AEGIS_"
	}

	if err := k.Load(env.Provider(prefix, ".", func(key string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(key, prefix)), "_", ".")
	}), nil); err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}
	return nil
}

// FlagSource loads configuration from command-line flags.
// Priority: 40 (highest, overrides all other sources)
type FlagSource struct {
	Flags *pflag.FlagSet
}

func (s *FlagSource) Name() string  { return "flags" }
func (s *FlagSource) Priority() int { return 40 }

func (s *FlagSource) Load(k *koanf.Koanf) error {
	if s.Flags == nil {
		return nil
	}
	if err := k.Load(posflag.Provider(s.Flags, ".", k), nil); err != nil {
		return fmt.Errorf("error loading command-line flags: %w", err)
	}
	return nil
}

// DefaultSources returns the standard layering for a CLI-driven run.
// Order: defaults -> file -> env -> flags
func DefaultSources(configPath string, flags *pflag.FlagSet) []Source {
	return []Source{
		&DefaultsSource{},
		&FileSource{Path: configPath},
		&EnvSource{Prefix: "AEGIS_"},
		&FlagSource{Flags: flags},
	}
}

func sortSources(sources []Source) []Source {
	ordered := make([]Source, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})
	return ordered
}
