// Package clamav scans mirrored nightly archives with ClamAV running in a
// Docker container before they are published to the cache.
package clamav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// DefaultImage is the ClamAV image used when none is configured.
const DefaultImage = "clamav/clamav-debian:latest"

const containerPath = "/scan/archive"

// ErrDockerUnavailable means the Docker daemon did not answer.
var ErrDockerUnavailable = errors.New("docker command not available")

// Report is the outcome of one scan.
type Report struct {
	Clean        bool
	Threats      []string
	Engine       string
	DatabaseDate string
	Duration     time.Duration
}

// InfectedError is returned by Check for an archive with known signatures.
type InfectedError struct {
	Path    string
	Threats []string
}

func (e *InfectedError) Error() string {
	return fmt.Sprintf("%s is infected: %s", filepath.Base(e.Path), strings.Join(e.Threats, ", "))
}

// Scanner runs clamscan in a throwaway container with the file mounted
// read-only.
type Scanner struct {
	runtime Runtime
	image   string
	logger  *slog.Logger
}

// New creates a Scanner. An empty image selects DefaultImage.
func New(runtime Runtime, image string, logger *slog.Logger) *Scanner {
	if image == "" {
		image = DefaultImage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{runtime: runtime, image: image, logger: logger}
}

// Image returns the container image the scanner runs.
func (s *Scanner) Image() string {
	return s.image
}

// Scan scans path and reports what clamscan found.
func (s *Scanner) Scan(ctx context.Context, path string) (Report, error) {
	start := time.Now()

	if err := s.runtime.Ping(ctx); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrDockerUnavailable, err)
	}
	if err := s.runtime.EnsureImage(ctx, s.image); err != nil {
		return Report{}, err
	}

	version := "unknown"
	out, code, err := s.runtime.Run(ctx, Job{Image: s.image, Cmd: []string{"clamscan", "--version"}})
	if err != nil || code != 0 {
		s.logger.Warn("failed to query clamav version", "image", s.image, "exit_code", code, "error", err)
	} else {
		version = strings.TrimSpace(string(out))
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Report{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	output, exitCode, err := s.runtime.Run(ctx, scanJob(s.image, abs))
	if err != nil {
		return Report{}, fmt.Errorf("failed to run clamscan: %w", err)
	}
	if exitCode > 1 {
		return Report{}, fmt.Errorf("clamscan failed with exit code %d: %s", exitCode, strings.TrimSpace(string(output)))
	}

	r, err := parseReport(output, exitCode, version)
	if err != nil {
		return r, err
	}
	r.Duration = time.Since(start)
	return r, nil
}

// Check scans path and returns an *InfectedError when it is not clean.
func (s *Scanner) Check(ctx context.Context, path string) error {
	r, err := s.Scan(ctx, path)
	if err != nil {
		return err
	}
	if !r.Clean {
		s.logger.Warn("malware found in nightly archive", "path", path, "threats", r.Threats, "engine", r.Engine)
		return &InfectedError{Path: path, Threats: r.Threats}
	}
	s.logger.Debug("nightly archive is clean", "path", path, "database", r.DatabaseDate, "duration", r.Duration)
	return nil
}

func scanJob(image, hostPath string) Job {
	return Job{
		Image:  image,
		Cmd:    []string{"clamscan", "--stdout", "--no-summary", containerPath},
		Source: hostPath,
		Target: containerPath,
	}
}
