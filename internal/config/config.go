package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Application constants
const (
	appName                = "kbchat"
	defaultDataDirectory   = ".kbchat"
	defaultLogLevel        = "info"
	defaultModel           = "gemini-2.5-flash"
	defaultPort            = 47100
	DefaultMaxContextItems = 30
	MinContextItems        = 1
	MaxContextItems        = 100
)

// Conversation-switch policies for an in-flight generation.
const (
	SwitchPolicyLand  = "land"
	SwitchPolicyAbort = "abort"
)

// Citation numbering policies.
const (
	NumberingProcessing = "processing"
	NumberingText       = "text"
)

// Storage drivers.
const (
	DriverBolt   = "bolt"
	DriverLibSQL = "libsql"
)

const defaultSystemInstruction = `You are a helpful research assistant. Answer using the documents and URLs the user has added to the knowledge base whenever they are relevant, and say so when they do not contain the answer. Keep answers concise and use markdown formatting.`

// Data defines storage location configuration
type Data struct {
	Directory string `json:"directory,omitempty" toml:"directory"`
}

// ServerConfig defines the HTTP listener
type ServerConfig struct {
	Host           string   `json:"host" toml:"host"`
	Port           int      `json:"port" toml:"port"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty" toml:"allowed_origins"`
	StaticDir      string   `json:"staticDir,omitempty" toml:"static_dir"`
}

// ModelConfig defines the model backend
type ModelConfig struct {
	APIKey            string  `json:"apiKey,omitempty" toml:"api_key"`
	Name              string  `json:"name" toml:"name"`
	SuggestionModel   string  `json:"suggestionModel,omitempty" toml:"suggestion_model"`
	SystemInstruction string  `json:"systemInstruction" toml:"system_instruction"`
	SafetyThreshold   string  `json:"safetyThreshold" toml:"safety_threshold"`
	Temperature       float64 `json:"temperature" toml:"temperature"`
}

// ChatConfig defines conversation behaviour
type ChatConfig struct {
	MaxContextItems   int           `json:"maxContextItems" toml:"max_context_items"`
	SwitchPolicy      string        `json:"switchPolicy" toml:"switch_policy"`
	CitationNumbering string        `json:"citationNumbering" toml:"citation_numbering"`
	StreamTimeout     time.Duration `json:"streamTimeout" toml:"stream_timeout"`
	ReadAloud         bool          `json:"readAloud" toml:"read_aloud"`
}

// StorageConfig defines the persisted-state backend
type StorageConfig struct {
	Driver string `json:"driver" toml:"driver"`
	Path   string `json:"path,omitempty" toml:"path"`
	Scope  string `json:"scope" toml:"scope"`
}

// LogConfig defines logging
type LogConfig struct {
	Level string `json:"level" toml:"level"`
	File  string `json:"file,omitempty" toml:"file"`
	JSON  bool   `json:"json" toml:"json"`
}

// Config is the main configuration structure for the application
type Config struct {
	Data    Data          `json:"data" toml:"data"`
	Server  ServerConfig  `json:"server" toml:"server"`
	Model   ModelConfig   `json:"model" toml:"model"`
	Chat    ChatConfig    `json:"chat" toml:"chat"`
	Storage StorageConfig `json:"storage" toml:"storage"`
	Log     LogConfig     `json:"log" toml:"log"`
	Locale  string        `json:"locale" toml:"locale"`
	Debug   bool          `json:"debug,omitempty" toml:"debug"`

	v *viper.Viper
}

// Load reads configuration from the given file (or the default search paths
// when empty), the KBCHAT_* environment and the provider key variables.
func Load(configPath string, debug bool) (*Config, error) {
	v := viper.New()
	configureViper(v, configPath)
	setDefaults(v, debug)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = apiKeyFromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configureViper sets up viper's configuration paths and environment variables
func configureViper(v *viper.Viper, configPath string) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(fmt.Sprintf(".%s", appName))
		v.SetConfigType("json")
		v.AddConfigPath("$HOME")
		v.AddConfigPath(fmt.Sprintf("$XDG_CONFIG_HOME/%s", appName))
		v.AddConfigPath(fmt.Sprintf("$HOME/.config/%s", appName))
	}
	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// setDefaults configures default values for configuration options
func setDefaults(v *viper.Viper, debug bool) {
	v.SetDefault("data.directory", "")
	v.SetDefault("locale", "en")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", defaultPort)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.staticDir", "")

	v.SetDefault("model.apiKey", "")
	v.SetDefault("model.name", defaultModel)
	v.SetDefault("model.suggestionModel", "")
	v.SetDefault("model.systemInstruction", defaultSystemInstruction)
	v.SetDefault("model.safetyThreshold", "BLOCK_MEDIUM_AND_ABOVE")
	v.SetDefault("model.temperature", 0.7)

	v.SetDefault("chat.maxContextItems", DefaultMaxContextItems)
	v.SetDefault("chat.switchPolicy", SwitchPolicyLand)
	v.SetDefault("chat.citationNumbering", NumberingProcessing)
	v.SetDefault("chat.streamTimeout", "0s")
	v.SetDefault("chat.readAloud", false)

	v.SetDefault("storage.driver", DriverBolt)
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.scope", appName)

	v.SetDefault("log.file", "")
	v.SetDefault("log.json", false)
	if debug {
		v.SetDefault("debug", true)
		v.Set("log.level", "debug")
	} else {
		v.SetDefault("debug", false)
		v.SetDefault("log.level", defaultLogLevel)
	}
}

// apiKeyFromEnv picks up the Gemini credential the same way the SDK does.
func apiKeyFromEnv() string {
	for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			return key
		}
	}
	return ""
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if c.Chat.MaxContextItems < MinContextItems || c.Chat.MaxContextItems > MaxContextItems {
		return fmt.Errorf("chat.maxContextItems must be between %d and %d, got %d",
			MinContextItems, MaxContextItems, c.Chat.MaxContextItems)
	}
	switch c.Chat.SwitchPolicy {
	case SwitchPolicyLand, SwitchPolicyAbort:
	default:
		return fmt.Errorf("chat.switchPolicy must be %q or %q, got %q", SwitchPolicyLand, SwitchPolicyAbort, c.Chat.SwitchPolicy)
	}
	switch c.Chat.CitationNumbering {
	case NumberingProcessing, NumberingText:
	default:
		return fmt.Errorf("chat.citationNumbering must be %q or %q, got %q", NumberingProcessing, NumberingText, c.Chat.CitationNumbering)
	}
	switch c.Storage.Driver {
	case DriverBolt, DriverLibSQL:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverBolt, DriverLibSQL, c.Storage.Driver)
	}
	if c.Chat.StreamTimeout < 0 {
		return fmt.Errorf("chat.streamTimeout must not be negative")
	}
	return nil
}

// HasCredential reports whether a backend credential is configured.
func (c *Config) HasCredential() bool {
	return strings.TrimSpace(c.Model.APIKey) != ""
}

// DataDir returns the directory holding the state database and logs.
func (c *Config) DataDir() string {
	if c.Data.Directory != "" {
		return c.Data.Directory
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, defaultDataDirectory)
}

// StatePath returns the database file for the configured storage driver.
func (c *Config) StatePath() string {
	if c.Storage.Path != "" {
		return c.Storage.Path
	}
	if c.Storage.Driver == DriverLibSQL {
		return filepath.Join(c.DataDir(), "chat.db")
	}
	return filepath.Join(c.DataDir(), "state.db")
}

// ConfigFileUsed returns the path of the file the config was read from.
func (c *Config) ConfigFileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// Watch re-reads the config file whenever it changes and hands the new,
// validated config to onChange. Invalid edits are logged and ignored.
func (c *Config) Watch(onChange func(*Config)) bool {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return false
	}
	var mu sync.Mutex
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		next, err := decode(c.v)
		if err != nil {
			log.Warn("Ignoring invalid config change", "file", e.Name, "err", err)
			return
		}
		log.Info("Configuration reloaded", "file", e.Name)
		onChange(next)
	})
	c.v.WatchConfig()
	return true
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	out.v = nil
	if out.Model.APIKey != "" {
		out.Model.APIKey = "********"
	}
	return out
}

// WriteTOML renders the redacted configuration as TOML.
func (c *Config) WriteTOML(w io.Writer) error {
	r := c.Redacted()
	if err := toml.NewEncoder(w).Encode(r); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
