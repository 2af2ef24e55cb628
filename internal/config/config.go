package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Model     ModelConfig     `json:"model"`
	Embedding EmbeddingConfig `json:"embedding"`
	Maze      MazeConfig      `json:"maze"`
	Sim       SimConfig       `json:"sim"`
	Database  DatabaseConfig  `json:"database"`
	Bridge    BridgeConfig    `json:"bridge"`
	Gateway   GatewayConfig   `json:"gateway"`
	Storage   StorageConfig   `json:"storage"`
	Run       RunConfig       `json:"run"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// ModelConfig selects the language-model backend the cognition loop calls.
type ModelConfig struct {
	Type        string  `json:"type"` // "ollama" or "openai"
	Name        string  `json:"name"`
	Endpoint    string  `json:"endpoint"`
	APIKey      string  `json:"api_key"`
	TimeoutSec  float64 `json:"timeout_sec"`
	Temperature float64 `json:"temperature"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type MazeConfig struct {
	Dataset string `json:"dataset"`
}

// SimConfig carries the tunable cognition and scheduling constants. The
// weighting and threshold defaults are starting points meant to be tuned,
// not fixed truths.
type SimConfig struct {
	SecPerStep       int     `json:"sec_per_step"`
	StartDate        string  `json:"start_date"` // e.g. "June 25, 2022"
	PerceptionRadius int     `json:"perception_radius"`
	RetrievalK       int     `json:"retrieval_k"`
	RecencyWeight    float64 `json:"recency_weight"`
	ImportanceWeight float64 `json:"importance_weight"`
	RelevanceWeight  float64 `json:"relevance_weight"`
	RecencyDecay     float64 `json:"recency_decay"`
	ReflectThreshold float64 `json:"reflect_threshold"`
	ProposalPoolSize int     `json:"proposal_pool_size"`
	EventsPerTick    int     `json:"events_per_tick"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Neo4j    Neo4jConfig    `json:"neo4j"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type Neo4jConfig struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type BridgeConfig struct {
	Enabled   bool    `json:"enabled"`
	StateFile string  `json:"state_file"`
	Stream    string  `json:"stream"`
	PollSec   float64 `json:"poll_sec"`
}

type GatewayConfig struct {
	Slack   SlackGatewayConfig   `json:"slack"`
	Discord DiscordGatewayConfig `json:"discord"`
}

type SlackGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

type DiscordGatewayConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

type StorageConfig struct {
	Root string `json:"root"` // run directories live here
}

// RunConfig names the run and controls the scheduler loop. ForkBase, when
// set, seeds a missing run directory by copying an existing run. Ticks
// limits the loop; zero means run until stopped.
type RunConfig struct {
	Name            string  `json:"name"`
	ForkBase        string  `json:"fork_base"`
	PersonasDir     string  `json:"personas_dir"`
	AutoStart       bool    `json:"auto_start"`
	StepIntervalSec float64 `json:"step_interval_sec"`
	Ticks           int     `json:"ticks"`
}

// ErrConfig marks fatal pre-run configuration problems.
var ErrConfig = errors.New("invalid configuration")

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Model.TimeoutSec == 0 {
		c.Model.TimeoutSec = 60
	}
	if c.Sim.SecPerStep == 0 {
		c.Sim.SecPerStep = 10
	}
	if c.Sim.PerceptionRadius == 0 {
		c.Sim.PerceptionRadius = 8
	}
	if c.Sim.RetrievalK == 0 {
		c.Sim.RetrievalK = 10
	}
	if c.Sim.RecencyWeight == 0 {
		c.Sim.RecencyWeight = 0.5
	}
	if c.Sim.ImportanceWeight == 0 {
		c.Sim.ImportanceWeight = 1.0
	}
	if c.Sim.RelevanceWeight == 0 {
		c.Sim.RelevanceWeight = 3.0
	}
	if c.Sim.RecencyDecay == 0 {
		c.Sim.RecencyDecay = 0.995
	}
	if c.Sim.ReflectThreshold == 0 {
		c.Sim.ReflectThreshold = 150
	}
	if c.Sim.ProposalPoolSize == 0 {
		c.Sim.ProposalPoolSize = 10
	}
	if c.Sim.EventsPerTick == 0 {
		c.Sim.EventsPerTick = 5
	}
	if c.Bridge.PollSec == 0 {
		c.Bridge.PollSec = 1
	}
	if c.Storage.Root == "" {
		c.Storage.Root = "storage"
	}
	if c.Run.Name == "" {
		c.Run.Name = "sim"
	}
	if c.Run.PersonasDir == "" {
		c.Run.PersonasDir = "configs/personas"
	}
	if c.Run.StepIntervalSec == 0 {
		c.Run.StepIntervalSec = 5
	}
}

// StepInterval returns the wall-clock pause between scheduler ticks.
func (c *Config) StepInterval() time.Duration {
	return time.Duration(c.Run.StepIntervalSec * float64(time.Second))
}

// Validate enforces the launch-time requirements: the maze dataset, the
// model name, and the model endpoint must all be present before the
// scheduler is allowed to start.
func (c *Config) Validate() error {
	if c.Maze.Dataset == "" {
		return fmt.Errorf("%w: maze.dataset is required", ErrConfig)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("%w: model.name is required", ErrConfig)
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("%w: model.endpoint is required", ErrConfig)
	}
	if c.Model.Type != "" && c.Model.Type != "ollama" && c.Model.Type != "openai" {
		return fmt.Errorf("%w: model.type must be \"ollama\" or \"openai\", got %q", ErrConfig, c.Model.Type)
	}
	return nil
}

// SimStartDate parses the configured start date ("June 25, 2022"
// style). A missing or malformed date returns the zero time, which the
// scheduler replaces with the current wall clock.
func (c *Config) SimStartDate() time.Time {
	if c.Sim.StartDate == "" {
		return time.Time{}
	}
	t, err := time.Parse("January 2, 2006", c.Sim.StartDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// BridgePollInterval returns the pause between bridge source polls.
func (c *Config) BridgePollInterval() time.Duration {
	return time.Duration(c.Bridge.PollSec * float64(time.Second))
}

// ModelTimeout returns the per-call model deadline as a duration.
func (c *Config) ModelTimeout() time.Duration {
	return time.Duration(c.Model.TimeoutSec * float64(time.Second))
}
