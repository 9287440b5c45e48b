package config

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"
)

// Config holds the global triage configuration
type Config struct {
	MaxConcurrency    int    `toml:"max_concurrency"`
	DefaultAgent      string `toml:"default_agent"`
	JobTimeoutMinutes int    `toml:"job_timeout_minutes"`
	MaxSteps          int    `toml:"max_steps"`
	SyncSchedule      string `toml:"sync_schedule"`

	// GitHub access
	Repo        string `toml:"repo"`
	GitHubToken string `toml:"github_token" sensitive:"true"`
	APIBaseURL  string `toml:"api_base_url"`

	// Agent commands
	ClaudeCodeCmd string `toml:"claude_code_cmd"`
	CodexCmd      string `toml:"codex_cmd"`
}

// ProjectConfig holds per-project overrides read from .triage.toml
type ProjectConfig struct {
	Repo              string `toml:"repo"`
	Agent             string `toml:"agent"`
	MaxConcurrency    int    `toml:"max_concurrency"`
	JobTimeoutMinutes int    `toml:"job_timeout_minutes"`
	MaxSteps          int    `toml:"max_steps"`
	ArtifactDir       string `toml:"artifact_dir"`
	TriageGuidelines  string `toml:"triage_guidelines"`
}

// ProjectConfigFile is the per-project config file name
const ProjectConfigFile = ".triage.toml"

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency:    3,
		DefaultAgent:      "claude-code",
		JobTimeoutMinutes: 30,
		MaxSteps:          40,
		SyncSchedule:      "@every 15m",
		ClaudeCodeCmd:     "claude",
		CodexCmd:          "codex",
	}
}

// DataDir returns the triage data directory.
// Uses TRIAGE_DATA_DIR env var if set, otherwise ~/.triage
func DataDir() string {
	if dir := os.Getenv("TRIAGE_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".triage")
}

// GlobalConfigPath returns the path to the global config file
func GlobalConfigPath() string {
	return filepath.Join(DataDir(), "config.toml")
}

// LoadGlobal loads the global configuration from the default path
func LoadGlobal() (*Config, error) {
	return LoadGlobalFrom(GlobalConfigPath())
}

// LoadGlobalFrom loads the global configuration from a specific path
func LoadGlobalFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadProjectConfig loads per-project config from .triage.toml
func LoadProjectConfig(workDir string) (*ProjectConfig, error) {
	path := filepath.Join(workDir, ProjectConfigFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil // No project config
	}

	var cfg ProjectConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ResolveAgent determines which agent to use based on config priority:
// 1. Explicit agent parameter (if non-empty)
// 2. Per-project config
// 3. Global config
// 4. Default ("claude-code")
func ResolveAgent(explicit string, projectCfg *ProjectConfig, globalCfg *Config) string {
	if explicit != "" {
		return explicit
	}
	if projectCfg != nil && projectCfg.Agent != "" {
		return projectCfg.Agent
	}
	if globalCfg != nil && globalCfg.DefaultAgent != "" {
		return globalCfg.DefaultAgent
	}
	return "claude-code"
}

// ResolveConcurrency determines the job queue width. Explicit values win,
// then per-project, then global, then 3.
func ResolveConcurrency(explicit int, projectCfg *ProjectConfig, globalCfg *Config) int {
	if explicit > 0 {
		return explicit
	}
	if projectCfg != nil && projectCfg.MaxConcurrency > 0 {
		return projectCfg.MaxConcurrency
	}
	if globalCfg != nil && globalCfg.MaxConcurrency > 0 {
		return globalCfg.MaxConcurrency
	}
	return 3
}

// ResolveJobTimeout determines job timeout in minutes based on config priority:
// 1. Per-project config (if set and > 0)
// 2. Global config (if set and > 0)
// 3. Default (30 minutes)
func ResolveJobTimeout(projectCfg *ProjectConfig, globalCfg *Config) int {
	if projectCfg != nil && projectCfg.JobTimeoutMinutes > 0 {
		return projectCfg.JobTimeoutMinutes
	}
	if globalCfg != nil && globalCfg.JobTimeoutMinutes > 0 {
		return globalCfg.JobTimeoutMinutes
	}
	return 30
}

// ResolveMaxSteps determines the per-analysis step budget.
func ResolveMaxSteps(projectCfg *ProjectConfig, globalCfg *Config) int {
	if projectCfg != nil && projectCfg.MaxSteps > 0 {
		return projectCfg.MaxSteps
	}
	if globalCfg != nil && globalCfg.MaxSteps > 0 {
		return globalCfg.MaxSteps
	}
	return 40
}

// SaveGlobal saves the global configuration
func SaveGlobal(cfg *Config) error {
	path := GlobalConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	return atomic.WriteFile(path, &buf)
}
