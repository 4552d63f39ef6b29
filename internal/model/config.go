package model

import (
	"context"
	"io"
	"slices"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	DefaultMaxLength = 300

	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

// Config is the herald configuration file.
type Config struct {
	Version   int      `json:"version" yaml:"version"` // fixed 0 for now
	MaxLength int      `json:"max_length" yaml:"max_length"`
	Services  Services `json:"services" yaml:"services"`
	Commands  Registry `json:"commands" yaml:"commands"`
	Timeout   *string  `json:"timeout,omitempty" yaml:"timeout,omitempty"` // ISO8601, e.g. PT30S
	Verbose   *bool    `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	Log       *string  `json:"log,omitempty" yaml:"log,omitempty"` // "stderr"|"stdout"|"discard"|path
	// ListenRate limits broadcasts per second of the listen command.
	ListenRate *int `json:"listen_rate,omitempty" yaml:"listen_rate,omitempty"`
}

// DefaultConfig returns the configuration written on a first run.
func DefaultConfig(_ context.Context) Config {
	return Config{
		MaxLength: DefaultMaxLength,
		Services:  Services{"bsky", "toot"},
		Commands: Registry{
			"bsky": {"bsky", "post", "--stdin"},
			"toot": {"toot", "post"},
		},
	}
}

// Clone returns a deep copy, so callers may keep it past a reconfiguration.
func (c Config) Clone() Config {
	out := c
	out.Services = slices.Clone(c.Services)
	out.Commands = c.Commands.Clone()
	out.Timeout = clonePtr(c.Timeout)
	out.Verbose = clonePtr(c.Verbose)
	out.Log = clonePtr(c.Log)
	out.ListenRate = clonePtr(c.ListenRate)
	return out
}

// ProcessTimeout returns the per process deadline, zero means none.
func (c Config) ProcessTimeout() (time.Duration, error) {
	if c.Timeout == nil {
		return 0, nil
	}
	return ParseISODuration(*c.Timeout)
}

func (c Config) IsVerbose() bool {
	return c.Verbose != nil && *c.Verbose
}

// Rate returns the listen rate limit, zero means unlimited.
func (c Config) Rate() int {
	if c.ListenRate == nil {
		return 0
	}
	return *c.ListenRate
}

func (c Config) LogOutput() string {
	if c.Log == nil {
		return LogStderr
	}
	return *c.Log
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("herald.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	if out.Commands == nil {
		out.Commands = Registry{}
	}
	if _, err := out.ProcessTimeout(); err != nil {
		return Config{}, err
	}

	return out, nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
