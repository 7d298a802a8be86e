package publish

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/log"
)

// Repository describes a published code repository.
type Repository struct {
	Name          string    `json:"name"`
	URL           string    `json:"url"`
	DefaultBranch string    `json:"defaultBranch"`
	Files         int       `json:"files"`
	PushedAt      time.Time `json:"pushedAt"`
}

// Deployment describes a deployed application.
type Deployment struct {
	Provider   string    `json:"provider"`
	URL        string    `json:"url"`
	Status     string    `json:"status"`
	DeployedAt time.Time `json:"deployedAt"`
}

// RepoHoster publishes generated code to a hosting service.
type RepoHoster interface {
	// Publish creates the repository if needed and pushes the files.
	Publish(ctx context.Context, name string, files map[string][]byte) (*Repository, error)
}

// CloudDeployer deploys a published repository to a runtime platform.
type CloudDeployer interface {
	Deploy(ctx context.Context, repo *Repository) (*Deployment, error)
}

var repoNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// SlugifyRepoName derives a valid repository name from a project name.
func SlugifyRepoName(project string) string {
	s := strings.ToLower(strings.TrimSpace(project))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, s)
	s = strings.Trim(s, "-._")
	if s == "" {
		s = "generated-app"
	}
	return s
}

// LocalHoster keeps published repositories in memory. It backs the
// default configuration and tests; a real hoster implements the same
// interface against the service's API.
type LocalHoster struct {
	baseURL string

	mu    sync.Mutex
	repos map[string]*Repository
}

// NewLocalHoster creates an in-memory hoster rooted at baseURL.
func NewLocalHoster(baseURL string) *LocalHoster {
	if baseURL == "" {
		baseURL = "local://repos"
	}
	return &LocalHoster{baseURL: strings.TrimRight(baseURL, "/"), repos: make(map[string]*Repository)}
}

func (h *LocalHoster) Publish(ctx context.Context, name string, files map[string][]byte) (*Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindCancelled, "publish cancelled", err)
	}
	if !repoNameRe.MatchString(name) {
		return nil, errdefs.Newf(errdefs.KindValidation, "invalid repository name %q", name)
	}
	if len(files) == 0 {
		return nil, errdefs.New(errdefs.KindValidation, "nothing to publish")
	}

	repo := &Repository{
		Name:          name,
		URL:           fmt.Sprintf("%s/%s", h.baseURL, name),
		DefaultBranch: "main",
		Files:         len(files),
		PushedAt:      time.Now().UTC(),
	}

	h.mu.Lock()
	h.repos[name] = repo
	h.mu.Unlock()

	log.WithComponent("publish").Info().
		Str("repo", name).
		Int("files", len(files)).
		Msg("Repository published")
	return repo, nil
}

// Get returns a previously published repository.
func (h *LocalHoster) Get(name string) (*Repository, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.repos[name]
	return r, ok
}

// LocalDeployer simulates a deployment platform. Deployments succeed
// immediately and get a stable URL derived from the repository name.
type LocalDeployer struct {
	provider string
	domain   string

	mu          sync.Mutex
	deployments map[string]*Deployment
}

// NewLocalDeployer creates an in-memory deployer.
func NewLocalDeployer(provider, domain string) *LocalDeployer {
	if provider == "" {
		provider = "local"
	}
	if domain == "" {
		domain = "apps.local"
	}
	return &LocalDeployer{provider: provider, domain: domain, deployments: make(map[string]*Deployment)}
}

func (d *LocalDeployer) Deploy(ctx context.Context, repo *Repository) (*Deployment, error) {
	if err := ctx.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindCancelled, "deploy cancelled", err)
	}
	if repo == nil || repo.Name == "" {
		return nil, errdefs.New(errdefs.KindValidation, "repository is required")
	}

	dep := &Deployment{
		Provider:   d.provider,
		URL:        fmt.Sprintf("https://%s.%s", repo.Name, d.domain),
		Status:     "live",
		DeployedAt: time.Now().UTC(),
	}

	d.mu.Lock()
	d.deployments[repo.Name] = dep
	d.mu.Unlock()

	log.WithComponent("publish").Info().
		Str("repo", repo.Name).
		Str("url", dep.URL).
		Msg("Deployment complete")
	return dep, nil
}

// Get returns the deployment of a repository.
func (d *LocalDeployer) Get(repoName string) (*Deployment, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dep, ok := d.deployments[repoName]
	return dep, ok
}
