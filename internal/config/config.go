// Package config loads the orchestrator configuration from YAML or TOML
// files, .env files and the environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/executor"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/llm"
	"github.com/ZanzyTHEbar/mcp-orchestrator/internal/registry"
)

var logger = xlog.NewPackageLogger("github.com/ZanzyTHEbar/mcp-orchestrator/internal", "config")

// Config is the root of the configuration file.
type Config struct {
	LLM         LLMConfig       `yaml:"llm" toml:"llm"`
	Servers     []ServerConfig  `yaml:"servers" toml:"servers" validate:"unique=Key,dive"`
	Discovery   DiscoveryConfig `yaml:"discovery" toml:"discovery"`
	Executor    ExecutorConfig  `yaml:"executor" toml:"executor"`
	Output      OutputConfig    `yaml:"output" toml:"output"`
	Pipeline    PipelineConfig  `yaml:"pipeline" toml:"pipeline"`
	CatalogFile string          `yaml:"catalog_file" toml:"catalog_file"`
}

// LLMConfig selects the model backend.
type LLMConfig struct {
	Provider          string        `yaml:"provider" toml:"provider" validate:"omitempty,oneof=openai anthropic genkit"`
	Model             string        `yaml:"model" toml:"model"`
	APIKey            string        `yaml:"api_key" toml:"api_key"`
	BaseURL           string        `yaml:"base_url" toml:"base_url" validate:"omitempty,url"`
	MaxTokens         int           `yaml:"max_tokens" toml:"max_tokens" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" toml:"requests_per_second" validate:"gte=0"`
	Burst             int           `yaml:"burst" toml:"burst" validate:"gte=0"`
	CacheTTL          time.Duration `yaml:"cache_ttl" toml:"cache_ttl" validate:"gte=0"`
	CacheFile         string        `yaml:"cache_file" toml:"cache_file"`
}

// ServerConfig describes one tool server. Builtin servers are hosted
// in-process and need no command.
type ServerConfig struct {
	Key     string            `yaml:"key" toml:"key" validate:"required,excludes=."`
	Command string            `yaml:"command" toml:"command"`
	Args    []string          `yaml:"args" toml:"args"`
	Env     map[string]string `yaml:"env" toml:"env"`
	Builtin bool              `yaml:"builtin" toml:"builtin"`
}

// DiscoveryConfig controls how the capability graph is built.
type DiscoveryConfig struct {
	Mode    string        `yaml:"mode" toml:"mode" validate:"oneof=static live"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout" validate:"gte=0"`
}

// ExecutorConfig mirrors the executor options.
type ExecutorConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency" toml:"max_concurrency" validate:"gte=1,lte=256"`
	StepTimeout    time.Duration `yaml:"step_timeout" toml:"step_timeout" validate:"gt=0"`
	MaxRetries     int           `yaml:"max_retries" toml:"max_retries" validate:"gte=0,lte=10"`
	RetryDelay     time.Duration `yaml:"retry_delay" toml:"retry_delay" validate:"gte=0"`
}

// OutputConfig controls the final answer text.
type OutputConfig struct {
	Humanize    bool   `yaml:"humanize" toml:"humanize"`
	ASCIIOnly   bool   `yaml:"ascii_only" toml:"ascii_only"`
	Replacement string `yaml:"replacement" toml:"replacement"`
}

// PipelineConfig toggles optional pipeline stages.
type PipelineConfig struct {
	Reflection   bool `yaml:"reflection" toml:"reflection"`
	ReportStalls bool `yaml:"report_stalls" toml:"report_stalls"`
}

// Default returns the configuration used when no file is given: the
// builtin arithmetic server, static discovery and the executor defaults.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Model: llm.DefaultModel,
		},
		Servers: []ServerConfig{
			{Key: "arithmetic", Builtin: true},
		},
		Discovery: DiscoveryConfig{
			Mode:    string(registry.ModeStatic),
			Timeout: registry.DefaultDiscoveryTimeout,
		},
		Executor: ExecutorConfig{
			MaxConcurrency: executor.DefaultMaxConcurrency,
			StepTimeout:    executor.DefaultStepTimeout,
			MaxRetries:     executor.DefaultMaxRetries,
		},
		Pipeline: PipelineConfig{
			Reflection: true,
		},
	}
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are ignored; existing variables are never overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "failed to load %s", f)
		}
		logger.KV(xlog.DEBUG, "status", "dotenv_loaded", "file", f)
	}
	return nil
}

// Override adjusts a loaded configuration, typically from command line
// flags.
type Override func(*Config)

// Load reads path (when not empty) over the defaults, then applies the
// environment, the overrides and the provider API key, and validates the
// result.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := cfg.decode(path, data); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.Getenv)
	for _, o := range overrides {
		o(cfg)
	}
	cfg.ResolveAPIKey(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.KV(xlog.DEBUG, "status", "config_loaded", "path", path, "provider", cfg.Provider(), "servers", len(cfg.Servers))
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	defaults := c.Servers
	c.Servers = nil
	defer func() {
		if len(c.Servers) == 0 {
			c.Servers = defaults
		}
	}()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return orchestrator.NewValidationError("config", "invalid TOML in "+path, err)
		}
	case ".yaml", ".yml", ".json", "":
		if err := yaml.Unmarshal(data, c); err != nil {
			return orchestrator.NewValidationError("config", "invalid YAML in "+path, err)
		}
	default:
		return orchestrator.NewValidationError("config", "unsupported config format "+filepath.Ext(path), nil)
	}
	return nil
}

// ApplyEnv overrides file values with the environment. Variables that are
// unset or empty leave the configuration untouched.
func (c *Config) ApplyEnv(getenv func(string) string) {
	env := envFunc(getenv)
	if v := env("ORCHESTRATOR_PROVIDER"); v != "" {
		c.LLM.Provider = strings.ToLower(v)
	}
	if v := env("OPENAI_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if c.LLM.Model == "" {
		c.LLM.Model = llm.DefaultModel
	}
	if v := env("OPENAI_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := env("ORCHESTRATOR_DISCOVERY"); v != "" {
		c.Discovery.Mode = strings.ToLower(v)
	}
}

// ResolveAPIKey reads the key of the resolved provider from the
// environment unless the file sets one.
func (c *Config) ResolveAPIKey(getenv func(string) string) {
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = apiKeyFor(c.Provider(), envFunc(getenv))
	}
}

func envFunc(getenv func(string) string) func(string) string {
	return func(key string) string {
		return strings.TrimSpace(getenv(key))
	}
}

func apiKeyFor(p llm.Provider, env func(string) string) string {
	switch p {
	case llm.ProviderAnthropic:
		return env("ANTHROPIC_API_KEY")
	case llm.ProviderGenkit:
		if v := env("GEMINI_API_KEY"); v != "" {
			return v
		}
		return env("GOOGLE_API_KEY")
	default:
		return env("OPENAI_API_KEY")
	}
}

// Provider returns the configured provider, inferred from the model when
// not set.
func (c *Config) Provider() llm.Provider {
	if c.LLM.Provider != "" {
		return llm.Provider(c.LLM.Provider)
	}
	return llm.ProviderFor(c.LLM.Model)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fe.Namespace()+" failed '"+fe.Tag()+"'")
			}
			return orchestrator.NewValidationError("config", strings.Join(msgs, "; "), err)
		}
		return orchestrator.NewValidationError("config", "invalid configuration", err)
	}
	return nil
}

// ServerSpecs converts the server list, keeping its order.
func (c *Config) ServerSpecs() []orchestrator.ServerSpec {
	out := make([]orchestrator.ServerSpec, 0, len(c.Servers))
	for _, s := range c.Servers {
		spec := orchestrator.ServerSpec{
			Key:       s.Key,
			Command:   s.Command,
			Args:      append([]string(nil), s.Args...),
			Env:       s.Env,
			Transport: orchestrator.TransportStdio,
		}
		if s.Builtin {
			spec.Transport = orchestrator.TransportBuiltin
		}
		out = append(out, spec)
	}
	return out
}

// LLMOptions returns the provider options; cache may be nil.
func (c *Config) LLMOptions(cache orchestrator.Cache) llm.Options {
	return llm.Options{
		Provider:          c.Provider(),
		Model:             c.LLM.Model,
		APIKey:            c.LLM.APIKey,
		BaseURL:           c.LLM.BaseURL,
		MaxTokens:         c.LLM.MaxTokens,
		RequestsPerSecond: c.LLM.RequestsPerSecond,
		Burst:             c.LLM.Burst,
		Cache:             cache,
	}
}

// ExecutorOptions returns the executor options described by the file.
func (c *Config) ExecutorOptions() []executor.ExecutorOption {
	return []executor.ExecutorOption{
		executor.WithMaxConcurrency(c.Executor.MaxConcurrency),
		executor.WithStepTimeout(c.Executor.StepTimeout),
		executor.WithMaxRetries(c.Executor.MaxRetries),
		executor.WithRetryDelay(c.Executor.RetryDelay),
	}
}

// RegistryOptions returns the capability builder options except the
// lister, which depends on the runtime.
func (c *Config) RegistryOptions() []registry.Option {
	return []registry.Option{
		registry.WithMode(registry.ParseMode(c.Discovery.Mode)),
		registry.WithDiscoveryTimeout(c.Discovery.Timeout),
	}
}

// OrchestratorConfig maps the pipeline section onto the runtime config.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.EnableReflection = c.Pipeline.Reflection
	oc.ReportStalls = c.Pipeline.ReportStalls
	return oc
}
