// Package github provides a client for the GitHub Actions and Releases
// APIs used to mirror nightly builds and show release notes.
package github

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/clean-dependency-project/depbox/internal/ci"
	"github.com/clean-dependency-project/depbox/internal/ttlcache"
)

// DefaultCacheTTL is how long workflow runs and releases are cached.
const DefaultCacheTTL = 2 * time.Hour

// artifactsPerPage is the page size when listing run artifacts.
const artifactsPerPage = 100

// Sentinel errors for GitHub operations.
var (
	ErrInvalidRepo     = errors.New("repository must be in format 'owner/repo'")
	ErrReleaseNotFound = errors.New("release not found")
	ErrEmptyTag        = errors.New("release tag cannot be empty")
)

// Release is the subset of a GitHub release shown to users.
type Release struct {
	TagName string
	Name    string
	Body    string
	HTMLURL string
}

// Client wraps the GitHub API client. Workflow run and release lookups
// are cached; artifact downloads are not.
type Client struct {
	client   *github.Client
	runs     *ttlcache.Cache[*ci.Run]
	releases *ttlcache.Cache[*Release]
	logger   *slog.Logger
}

var _ ci.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *clientOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// NewClient creates a GitHub API client. An empty token gives an
// unauthenticated client, which can read releases and runs of public
// repositories but cannot download artifacts.
func NewClient(token string, opts ...Option) *Client {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return newClient(client, opts...)
}

// NewClientWithBaseURL is NewClient against another API root, such as a
// GitHub Enterprise server or a mirror.
func NewClientWithBaseURL(token, baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return NewClient(token, opts...), nil
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid github base url %q: %w", baseURL, err)
	}

	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	client.BaseURL = u
	client.UploadURL = u
	return newClient(client, opts...), nil
}

func newClient(client *github.Client, opts ...Option) *Client {
	o := clientOptions{ttl: DefaultCacheTTL, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	return &Client{
		client:   client,
		runs:     ttlcache.New[*ci.Run](o.ttl, ttlcache.WithClock[*ci.Run](o.now)),
		releases: ttlcache.New[*Release](o.ttl, ttlcache.WithClock[*Release](o.now)),
		logger:   o.logger,
	}
}

// LatestSuccessfulRun returns the newest successful run of the workflow on
// the branch. A numeric workflow is treated as a workflow ID, anything
// else as the workflow file name. "No run" results are cached like runs.
func (c *Client) LatestSuccessfulRun(ctx context.Context, ref ci.Ref) (*ci.Run, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	run, err := c.runs.Get(ctx, ref.String(), func(ctx context.Context) (*ci.Run, error) {
		return c.fetchLatestSuccessfulRun(ctx, ref)
	})
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ci.ErrNoSuccessfulRun, ref)
	}
	return run, nil
}

func (c *Client) fetchLatestSuccessfulRun(ctx context.Context, ref ci.Ref) (*ci.Run, error) {
	opts := &github.ListWorkflowRunsOptions{
		Branch:      ref.Branch,
		Status:      "success",
		ListOptions: github.ListOptions{PerPage: 1},
	}

	var (
		runs *github.WorkflowRuns
		err  error
	)
	if id, perr := strconv.ParseInt(ref.Workflow, 10, 64); perr == nil {
		runs, _, err = c.client.Actions.ListWorkflowRunsByID(ctx, ref.Org, ref.Repo, id, opts)
	} else {
		runs, _, err = c.client.Actions.ListWorkflowRunsByFileName(ctx, ref.Org, ref.Repo, ref.Workflow, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow runs for %s: %w", ref, err)
	}

	if runs == nil || len(runs.WorkflowRuns) == 0 {
		c.logger.Debug("no successful workflow run", "ref", ref.String())
		return nil, nil
	}
	return convertRun(runs.WorkflowRuns[0]), nil
}

func convertRun(r *github.WorkflowRun) *ci.Run {
	head := r.GetHeadCommit()
	return &ci.Run{
		ID:        r.GetID(),
		Number:    r.GetRunNumber(),
		HTMLURL:   r.GetHTMLURL(),
		UpdatedAt: r.GetUpdatedAt().Time,
		Commit: ci.Commit{
			SHA:     head.GetID(),
			Message: head.GetMessage(),
			Author:  head.GetAuthor().GetName(),
		},
	}
}

// DownloadRunArtifact returns the zip archive of the named artifact of a
// run. Expired artifacts count as missing.
func (c *Client) DownloadRunArtifact(ctx context.Context, org, repo string, runID int64, name string) ([]byte, error) {
	artifactID, err := c.findArtifact(ctx, org, repo, runID, name)
	if err != nil {
		return nil, err
	}

	// The endpoint answers with a redirect to blob storage, which the
	// HTTP client follows without forwarding the token.
	u := fmt.Sprintf("repos/%s/%s/actions/artifacts/%d/zip", org, repo, artifactID)
	req, err := c.client.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact request: %w", err)
	}

	var buf bytes.Buffer
	if _, err := c.client.Do(ctx, req, &buf); err != nil {
		return nil, fmt.Errorf("failed to download artifact %s of run %d: %w", name, runID, err)
	}

	c.logger.Debug("downloaded workflow artifact", "repo", org+"/"+repo, "run_id", runID, "artifact", name, "bytes", buf.Len())
	return buf.Bytes(), nil
}

func (c *Client) findArtifact(ctx context.Context, org, repo string, runID int64, name string) (int64, error) {
	opts := &github.ListOptions{PerPage: artifactsPerPage}
	for {
		list, resp, err := c.client.Actions.ListWorkflowRunArtifacts(ctx, org, repo, runID, opts)
		if err != nil {
			return 0, fmt.Errorf("failed to list artifacts of run %d: %w", runID, err)
		}
		for _, a := range list.Artifacts {
			if a.GetName() == name && !a.GetExpired() {
				return a.GetID(), nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return 0, fmt.Errorf("%w: %s in run %d", ci.ErrArtifactNotFound, name, runID)
}

// GetRelease retrieves a release by tag name.
// Returns ErrReleaseNotFound if the release doesn't exist.
func (c *Client) GetRelease(ctx context.Context, owner, repo, tag string) (*Release, error) {
	if tag == "" {
		return nil, ErrEmptyTag
	}

	key := fmt.Sprintf("%s/%s::%s", owner, repo, tag)
	return c.releases.Get(ctx, key, func(ctx context.Context) (*Release, error) {
		release, resp, err := c.client.Repositories.GetReleaseByTag(ctx, owner, repo, tag)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return nil, fmt.Errorf("%w: %s", ErrReleaseNotFound, key)
			}
			return nil, fmt.Errorf("failed to get release %s: %w", key, err)
		}
		return &Release{
			TagName: release.GetTagName(),
			Name:    release.GetName(),
			Body:    release.GetBody(),
			HTMLURL: release.GetHTMLURL(),
		}, nil
	})
}

// ReleaseBody returns the notes of the release tagged tag in repository
// ("owner/repo").
func (c *Client) ReleaseBody(ctx context.Context, repository, tag string) (string, error) {
	owner, repo, err := parseRepository(repository)
	if err != nil {
		return "", err
	}
	release, err := c.GetRelease(ctx, owner, repo, tag)
	if err != nil {
		return "", err
	}
	return release.Body, nil
}

// parseRepository splits a repository string into owner and repo.
// Returns an error if the format is invalid.
func parseRepository(repository string) (owner, repo string, err error) {
	if repository == "" {
		return "", "", ErrInvalidRepo
	}

	parts := strings.Split(repository, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: got %s", ErrInvalidRepo, repository)
	}

	owner = strings.TrimSpace(parts[0])
	repo = strings.TrimSpace(parts[1])

	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("%w: owner or repo is empty", ErrInvalidRepo)
	}

	return owner, repo, nil
}
