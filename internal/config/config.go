package config

import (
	"fmt"
	"os"

	"github.com/schaermu/tidyout/internal/match"
	"github.com/schaermu/tidyout/internal/pretty"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultEnv is used when neither the options nor the caller name an environment.
	DefaultEnv = "local"
	// DefaultEncoding is the WHATWG label used for reading and writing files.
	DefaultEncoding = "utf8"
	// DefaultFile is the config file looked up in the working directory.
	DefaultFile = "tidyout.yaml"
)

// Options holds the user-supplied settings. Every field is optional.
type Options struct {
	Env         string        `yaml:"env"`
	AllowedEnvs AllowList     `yaml:"allowed_envs"`
	Input       string        `yaml:"input"`
	Output      string        `yaml:"output"`
	Test        string        `yaml:"test"`
	Encoding    string        `yaml:"encoding"`
	Rules       *pretty.Rules `yaml:"rules"`
	Verbose     bool          `yaml:"verbose"`
	Build       BuildConfig   `yaml:"build"`
	Serve       ServeConfig   `yaml:"serve"`
}

// BuildConfig configures the build command run before the build-done signal.
type BuildConfig struct {
	Command []string `yaml:"command"`
	Dir     string   `yaml:"dir"`
}

// ServeConfig configures the build notification server
type ServeConfig struct {
	Enabled     bool     `yaml:"enabled"`
	ListenAddr  string   `yaml:"listen_addr"`
	SecretFile  string   `yaml:"secret_file"`
	AllowedEnvs []string `yaml:"allowed_envs"`
}

// Config is the resolved configuration. It is created once by Resolve and
// must not be modified afterwards.
type Config struct {
	Env         string
	AllowedEnvs AllowList
	Match       match.Predicate
	Encoding    string
	Codec       encoding.Encoding
	Rules       pretty.Rules
	// InputRoot and OutputRoot are the user overrides; empty means default.
	InputRoot  string
	OutputRoot string
	Verbose    bool
}

// Load reads and parses the configuration file
func Load(path string) (*Options, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var opts Options
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	opts.expandEnv()

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &opts, nil
}

// expandEnv expands environment variables in path-like string fields
func (o *Options) expandEnv() {
	o.Env = os.ExpandEnv(o.Env)
	o.Input = os.ExpandEnv(o.Input)
	o.Output = os.ExpandEnv(o.Output)
	o.Build.Dir = os.ExpandEnv(o.Build.Dir)
	o.Serve.ListenAddr = os.ExpandEnv(o.Serve.ListenAddr)
	o.Serve.SecretFile = os.ExpandEnv(o.Serve.SecretFile)
}

// Validate checks the sections that have hard requirements. Everything
// else is checked by Resolve or surfaces when used.
func (o *Options) Validate() error {
	if o.Serve.Enabled {
		if o.Serve.ListenAddr == "" {
			return fmt.Errorf("serve.listen_addr is required when serve is enabled")
		}
		if o.Serve.SecretFile == "" {
			return fmt.Errorf("serve.secret_file is required when serve is enabled")
		}
	}
	return nil
}

// Resolve applies defaults to opts. defaultEnv is the externally supplied
// environment (e.g. from the command line) used when opts.Env is empty.
func Resolve(opts Options, defaultEnv string) (*Config, error) {
	cfg := &Config{
		Env:         opts.Env,
		AllowedEnvs: opts.AllowedEnvs,
		Encoding:    opts.Encoding,
		InputRoot:   opts.Input,
		OutputRoot:  opts.Output,
		Verbose:     opts.Verbose,
	}

	if cfg.Env == "" {
		cfg.Env = defaultEnv
	}
	if cfg.Env == "" {
		cfg.Env = DefaultEnv
	}

	if !cfg.AllowedEnvs.IsSet() {
		cfg.AllowedEnvs = Any()
	}

	pred, err := match.Parse(opts.Test)
	if err != nil {
		return nil, fmt.Errorf("test: %w", err)
	}
	cfg.Match = pred

	if cfg.Encoding == "" {
		cfg.Encoding = DefaultEncoding
	}
	codec, err := htmlindex.Get(cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("encoding %q: %w", cfg.Encoding, err)
	}
	cfg.Codec = codec

	if opts.Rules != nil {
		cfg.Rules = *opts.Rules
	} else {
		cfg.Rules = pretty.DefaultRules()
	}

	return cfg, nil
}

// DefaultInput returns the conventional input directory for env.
func DefaultInput(env string) string {
	return "build_" + env
}
