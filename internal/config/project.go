package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chhoumann/claude-github-triage/internal/git"
)

var (
	ErrNoToken   = errors.New("no GitHub token (set github_token in config.toml, GITHUB_TOKEN or GH_TOKEN)")
	ErrNoRepo    = errors.New("no repository configured and no GitHub remote found (use --repo owner/name or set repo in .triage.toml)")
	ErrNoWorkDir = errors.New("working directory does not exist")
	ErrBadRepo   = errors.New("repository must be in owner/name form")
)

// Project is everything the core needs to know about the project being
// triaged. It is resolved once at process start and passed down.
type Project struct {
	Owner   string
	Name    string
	Token   string
	BaseURL string

	WorkDir     string
	DataDir     string
	ArtifactDir string

	Agent       string
	Concurrency int
	JobTimeout  time.Duration
	MaxSteps    int
	Schedule    string

	// Guidelines is project-specific triage guidance from .triage.toml.
	Guidelines string
}

// Slug returns owner/name.
func (p *Project) Slug() string {
	return p.Owner + "/" + p.Name
}

// MetadataPath is the JSON document holding the per-issue records.
func (p *Project) MetadataPath() string {
	return filepath.Join(p.DataDir, "metadata.json")
}

// HistoryDBPath is the sqlite database holding job run history.
func (p *Project) HistoryDBPath() string {
	return filepath.Join(p.DataDir, "runs.db")
}

// ProjectOptions carries CLI overrides into ResolveProject.
type ProjectOptions struct {
	WorkDir     string
	Repo        string
	Agent       string
	Concurrency int

	// RequireToken makes a missing token a resolution error. Local-only
	// commands (scan, list, mark) leave it false.
	RequireToken bool
}

// ResolveProject builds a Project from global config, the project's
// .triage.toml and CLI overrides.
func ResolveProject(globalCfg *Config, opts ProjectOptions) (*Project, error) {
	if globalCfg == nil {
		globalCfg = DefaultConfig()
	}

	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		workDir = wd
	}
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNoWorkDir, workDir)
	}
	workDir, _ = filepath.Abs(workDir)

	projectCfg, err := LoadProjectConfig(workDir)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ProjectConfigFile, err)
	}

	repo := opts.Repo
	if repo == "" && projectCfg != nil {
		repo = projectCfg.Repo
	}
	if repo == "" {
		repo = globalCfg.Repo
	}
	if repo == "" {
		repo = git.DetectGitHubRepo(workDir)
	}
	if repo == "" {
		return nil, ErrNoRepo
	}
	owner, name, ok := strings.Cut(strings.TrimSuffix(repo, ".git"), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: %q", ErrBadRepo, repo)
	}

	token := resolveToken(globalCfg)
	if token == "" && opts.RequireToken {
		return nil, ErrNoToken
	}

	p := &Project{
		Owner:       owner,
		Name:        name,
		Token:       token,
		BaseURL:     globalCfg.APIBaseURL,
		WorkDir:     workDir,
		DataDir:     filepath.Join(DataDir(), "projects", owner+"__"+name),
		Agent:       ResolveAgent(opts.Agent, projectCfg, globalCfg),
		Concurrency: ResolveConcurrency(opts.Concurrency, projectCfg, globalCfg),
		JobTimeout:  time.Duration(ResolveJobTimeout(projectCfg, globalCfg)) * time.Minute,
		MaxSteps:    ResolveMaxSteps(projectCfg, globalCfg),
		Schedule:    globalCfg.SyncSchedule,
	}

	p.ArtifactDir = filepath.Join(workDir, ".triage")
	if projectCfg != nil && projectCfg.ArtifactDir != "" {
		p.ArtifactDir = projectCfg.ArtifactDir
		if !filepath.IsAbs(p.ArtifactDir) {
			p.ArtifactDir = filepath.Join(workDir, p.ArtifactDir)
		}
	}
	if projectCfg != nil {
		p.Guidelines = projectCfg.TriageGuidelines
	}

	return p, nil
}

// resolveToken prefers the config file, then GITHUB_TOKEN, then GH_TOKEN.
func resolveToken(cfg *Config) string {
	if cfg.GitHubToken != "" {
		return cfg.GitHubToken
	}
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
		return tok
	}
	return os.Getenv("GH_TOKEN")
}
