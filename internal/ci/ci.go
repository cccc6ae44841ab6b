// Package ci defines the narrow view of a CI service used to mirror
// nightly build artifacts.
package ci

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for CI queries.
var (
	ErrNoSuccessfulRun  = errors.New("no successful workflow run")
	ErrArtifactNotFound = errors.New("workflow run artifact not found")
	ErrIncompleteRef    = errors.New("ci reference needs org, repo, workflow and branch")
)

// Ref identifies a workflow on a branch of a repository.
type Ref struct {
	Org      string `json:"org"`
	Repo     string `json:"repo"`
	Workflow string `json:"workflow"`
	Branch   string `json:"branch"`
}

// Validate checks that every field is set.
func (r Ref) Validate() error {
	if strings.TrimSpace(r.Org) == "" || strings.TrimSpace(r.Repo) == "" ||
		strings.TrimSpace(r.Workflow) == "" || strings.TrimSpace(r.Branch) == "" {
		return fmt.Errorf("%w: %s", ErrIncompleteRef, r)
	}
	return nil
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s::%s@%s", r.Org, r.Repo, r.Workflow, r.Branch)
}

// Commit is the head commit of a run.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	Author  string `json:"author"`
}

// Run is a finished workflow run.
type Run struct {
	ID        int64     `json:"id"`
	Number    int       `json:"number"`
	HTMLURL   string    `json:"html_url"`
	UpdatedAt time.Time `json:"updated_at"`
	Commit    Commit    `json:"commit"`
}

// Client queries a CI service.
type Client interface {
	// LatestSuccessfulRun returns the most recent successful run for ref,
	// or ErrNoSuccessfulRun.
	LatestSuccessfulRun(ctx context.Context, ref Ref) (*Run, error)

	// DownloadRunArtifact returns the archive bytes of the named artifact
	// of a run, or ErrArtifactNotFound.
	DownloadRunArtifact(ctx context.Context, org, repo string, runID int64, name string) ([]byte, error)
}
