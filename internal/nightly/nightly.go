// Package nightly mirrors CI build artifacts on local disk. Each
// (product, artifact) pair is stored as a blob plus a marker file holding
// the CI run ID it came from; the pair is refreshed when the CI service
// reports a newer successful run.
package nightly

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/clean-dependency-project/depbox/internal/ci"
)

const (
	markerExt = ".runid"
	blobExt   = ".zip"
	dirMode   = 0o755
	fileMode  = 0o644
)

// ErrInvalidName rejects product or artifact names that would escape the
// cache directory.
var ErrInvalidName = errors.New("invalid nightly cache name")

// ErrBlobReplaced means every attempt to open a refreshed blob found a
// newer one already renamed over it.
var ErrBlobReplaced = errors.New("nightly blob replaced while opening")

// openAttempts bounds how often GetOrRefresh re-runs the refresh when the
// blob changes between the refresh and the open.
const openAttempts = 3

// FetchError reports a failure talking to the CI service.
type FetchError struct {
	Product  string
	Artifact string
	Op       string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("nightly %s/%s: %s: %v", e.Product, e.Artifact, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StoreError reports a local filesystem failure.
type StoreError struct {
	Path string
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("nightly cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ScanError reports an archive rejected by the Scanner.
type ScanError struct {
	Product  string
	Artifact string
	Err      error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("nightly %s/%s: rejected by scan: %v", e.Product, e.Artifact, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err means the CI service has nothing to
// serve: no successful run, or the run lacks the artifact.
func IsUnavailable(err error) bool {
	return errors.Is(err, ci.ErrNoSuccessfulRun) || errors.Is(err, ci.ErrArtifactNotFound)
}

// Blob is a cached artifact archive. File, set by GetOrRefresh, is an open
// handle on the exact bytes of RunID; it stays valid after a later refresh
// replaces Path. The caller owns it and must call Close.
type Blob struct {
	Path    string
	RunID   int64
	Size    int64
	ModTime time.Time
	Run     *ci.Run
	File    *os.File

	info os.FileInfo
}

// Close closes File, if any.
func (b *Blob) Close() error {
	if b == nil || b.File == nil {
		return nil
	}
	return b.File.Close()
}

// Record is one refresh attempt, reported to History.
type Record struct {
	Product   string
	Artifact  string
	RunID     int64
	RunNumber int
	BlobPath  string
	Size      int64
	SHA256    string
	Err       error
	FetchedAt time.Time
}

// History receives a record per refresh attempt. It is never consulted to
// decide hits or misses.
type History interface {
	RecordFetch(ctx context.Context, rec Record) error
}

// Scanner vets a downloaded archive before it is published. A non-nil
// error keeps the archive out of the cache.
type Scanner interface {
	Check(ctx context.Context, path string) error
}

// Cache is the on-disk nightly artifact cache.
type Cache struct {
	dir     string
	client  ci.Client
	history History
	scanner Scanner
	logger  *slog.Logger
	now     func() time.Time
	group   singleflight.Group

	// beforeOpen runs between the refresh and the open; tests use it to
	// replace the blob in that window.
	beforeOpen func()
}

// Option configures a Cache.
type Option func(*Cache)

// WithHistory records refresh attempts.
func WithHistory(h History) Option {
	return func(c *Cache) {
		c.history = h
	}
}

// WithScanner scans every downloaded archive before it replaces the
// cached one.
func WithScanner(s Scanner) Option {
	return func(c *Cache) {
		c.scanner = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// DefaultDir returns <user cache dir>/deposit-box/nightlies.
func DefaultDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user cache directory: %w", err)
	}
	return filepath.Join(base, "deposit-box", "nightlies"), nil
}

// New creates a cache rooted at dir, or at DefaultDir when dir is empty.
func New(dir string, client ci.Client, opts ...Option) (*Cache, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}

	c := &Cache{
		dir:    dir,
		client: client,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// GetOrRefresh returns the cached blob of artifact for product, first
// downloading it when the latest successful run of ref differs from the
// cached one. The whole check-and-refresh runs once per key at a time.
// The returned blob is open; the caller closes it.
func (c *Cache) GetOrRefresh(ctx context.Context, product, artifact string, ref ci.Ref) (*Blob, error) {
	if err := validateName(product); err != nil {
		return nil, err
	}
	if err := validateName(artifact); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < openAttempts; attempt++ {
		ch := c.group.DoChan(product+"/"+artifact, func() (any, error) {
			return c.refresh(context.WithoutCancel(ctx), product, artifact, ref)
		})

		var shared *Blob
		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			shared = res.Val.(*Blob)
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if c.beforeOpen != nil {
			c.beforeOpen()
		}
		blob, err := openBlob(shared)
		if err != nil {
			return nil, err
		}
		if blob != nil {
			return blob, nil
		}
		c.logger.Debug("nightly blob replaced before it was opened",
			"product", product, "artifact", artifact, "run_id", shared.RunID, "attempt", attempt+1)
	}
	return nil, &StoreError{Path: c.blobPath(product, artifact), Op: "open", Err: ErrBlobReplaced}
}

// openBlob returns a caller-owned copy of shared holding an open handle, or
// nil when the file at shared.Path is no longer the one the refresh
// produced.
func openBlob(shared *Blob) (*Blob, error) {
	f, err := os.Open(shared.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Path: shared.Path, Op: "open", Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, &StoreError{Path: shared.Path, Op: "stat", Err: err}
	}
	if !os.SameFile(shared.info, info) || info.Size() != shared.Size || !info.ModTime().Equal(shared.ModTime) {
		_ = f.Close()
		return nil, nil
	}
	blob := *shared
	blob.File = f
	return &blob, nil
}

func (c *Cache) refresh(ctx context.Context, product, artifact string, ref ci.Ref) (*Blob, error) {
	run, err := c.client.LatestSuccessfulRun(ctx, ref)
	if err != nil {
		return nil, &FetchError{Product: product, Artifact: artifact, Op: "latest run", Err: err}
	}

	runID := strconv.FormatInt(run.ID, 10)
	if cached := c.cachedRunID(product, artifact); cached != runID {
		c.logger.Info("refreshing nightly artifact",
			"product", product, "artifact", artifact, "run_id", run.ID, "cached_run_id", cached)

		data, err := c.client.DownloadRunArtifact(ctx, ref.Org, ref.Repo, run.ID, artifact)
		if err != nil {
			err = &FetchError{Product: product, Artifact: artifact, Op: "download", Err: err}
			c.record(ctx, Record{Product: product, Artifact: artifact, RunID: run.ID, RunNumber: run.Number, Err: err})
			return nil, err
		}

		if err := c.store(ctx, product, artifact, runID, data); err != nil {
			c.record(ctx, Record{Product: product, Artifact: artifact, RunID: run.ID, RunNumber: run.Number, Err: err})
			return nil, err
		}

		sum := sha256.Sum256(data)
		c.record(ctx, Record{
			Product:   product,
			Artifact:  artifact,
			RunID:     run.ID,
			RunNumber: run.Number,
			BlobPath:  c.blobPath(product, artifact),
			Size:      int64(len(data)),
			SHA256:    hex.EncodeToString(sum[:]),
		})
	}

	info, err := os.Stat(c.blobPath(product, artifact))
	if err != nil {
		return nil, &StoreError{Path: c.blobPath(product, artifact), Op: "stat", Err: err}
	}
	return &Blob{
		Path:    c.blobPath(product, artifact),
		RunID:   run.ID,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Run:     run,
		info:    info,
	}, nil
}

// Cached returns the blob currently on disk without asking the CI
// service and without opening it. A marker without its blob is not a
// cached entry.
func (c *Cache) Cached(product, artifact string) (*Blob, bool) {
	if validateName(product) != nil || validateName(artifact) != nil {
		return nil, false
	}
	id, err := strconv.ParseInt(c.cachedRunID(product, artifact), 10, 64)
	if err != nil {
		return nil, false
	}
	info, err := os.Stat(c.blobPath(product, artifact))
	if err != nil {
		return nil, false
	}
	return &Blob{Path: c.blobPath(product, artifact), RunID: id, Size: info.Size(), ModTime: info.ModTime()}, true
}

// Prune removes every cached artifact of product.
func (c *Cache) Prune(product string) error {
	if err := validateName(product); err != nil {
		return err
	}
	dir := filepath.Join(c.dir, product)
	if err := os.RemoveAll(dir); err != nil {
		return &StoreError{Path: dir, Op: "prune", Err: err}
	}
	return nil
}

// cachedRunID returns the run ID of the cached pair, or "" when either
// file is missing or unreadable.
func (c *Cache) cachedRunID(product, artifact string) string {
	if _, err := os.Stat(c.blobPath(product, artifact)); err != nil {
		return ""
	}
	data, err := os.ReadFile(c.markerPath(product, artifact))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// store replaces the pair. The marker goes first and comes back last so
// an interrupted write leaves a miss, never a marker naming the wrong
// blob. A rejected archive leaves the entry missing.
func (c *Cache) store(ctx context.Context, product, artifact, runID string, data []byte) error {
	prodDir := filepath.Join(c.dir, product)
	if err := os.MkdirAll(prodDir, dirMode); err != nil {
		return &StoreError{Path: prodDir, Op: "mkdir", Err: err}
	}

	marker := c.markerPath(product, artifact)
	if err := os.Remove(marker); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StoreError{Path: marker, Op: "remove", Err: err}
	}

	blob := c.blobPath(product, artifact)
	var check func(string) error
	if c.scanner != nil {
		check = func(tmp string) error {
			if err := c.scanner.Check(ctx, tmp); err != nil {
				return &ScanError{Product: product, Artifact: artifact, Err: err}
			}
			return nil
		}
	}
	if err := writeAtomic(blob, data, check); err != nil {
		return err
	}
	return writeAtomic(marker, []byte(runID), nil)
}

func (c *Cache) record(ctx context.Context, rec Record) {
	if c.history == nil {
		return
	}
	rec.FetchedAt = c.now()
	if err := c.history.RecordFetch(ctx, rec); err != nil {
		c.logger.Warn("failed to record nightly fetch", "product", rec.Product, "artifact", rec.Artifact, "error", err)
	}
}

func (c *Cache) blobPath(product, artifact string) string {
	return filepath.Join(c.dir, product, artifact+blobExt)
}

func (c *Cache) markerPath(product, artifact string) string {
	return filepath.Join(c.dir, product, artifact+markerExt)
}

// writeAtomic writes data next to path and renames it into place. check,
// when set, sees the complete temporary file before the rename.
func writeAtomic(path string, data []byte, check func(tmp string) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return &StoreError{Path: path, Op: "create", Err: err}
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &StoreError{Path: path, Op: "write", Err: err}
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return &StoreError{Path: path, Op: "chmod", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &StoreError{Path: path, Op: "close", Err: err}
	}
	if check != nil {
		if err := check(tmpName); err != nil {
			return err
		}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &StoreError{Path: path, Op: "rename", Err: err}
	}
	return nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
