package nightly

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clean-dependency-project/depbox/internal/ci"
)

var testRef = ci.Ref{Org: "SkyTemple", Repo: "skytemple", Workflow: "build-test-publish.yml", Branch: "master"}

// fakeCI serves one current run and a set of artifacts per run.
type fakeCI struct {
	mu        sync.Mutex
	run       *ci.Run
	runErr    error
	artifacts map[int64]map[string][]byte
	downloads atomic.Int32
	gate      chan struct{}
}

func newFakeCI(runID int64) *fakeCI {
	return &fakeCI{
		run:       &ci.Run{ID: runID, Number: int(runID % 1000)},
		artifacts: make(map[int64]map[string][]byte),
	}
}

func (f *fakeCI) setArtifact(runID int64, name string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.artifacts[runID] == nil {
		f.artifacts[runID] = make(map[string][]byte)
	}
	f.artifacts[runID][name] = data
}

func (f *fakeCI) setRun(runID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.run = &ci.Run{ID: runID, Number: int(runID % 1000)}
}

func (f *fakeCI) LatestSuccessfulRun(context.Context, ci.Ref) (*ci.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return nil, f.runErr
	}
	run := *f.run
	return &run, nil
}

func (f *fakeCI) DownloadRunArtifact(_ context.Context, _, _ string, runID int64, name string) ([]byte, error) {
	f.downloads.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.artifacts[runID][name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ci.ErrArtifactNotFound, name)
	}
	return append([]byte(nil), data...), nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records []Record
}

func (h *fakeHistory) RecordFetch(_ context.Context, rec Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func newTestCache(t *testing.T, client ci.Client, opts ...Option) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), client, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func readBlob(t *testing.T, b *Blob) []byte {
	t.Helper()
	if b.File == nil {
		t.Fatal("blob has no open file")
	}
	t.Cleanup(func() { _ = b.Close() })
	data, err := io.ReadAll(io.NewSectionReader(b.File, 0, b.Size))
	if err != nil {
		t.Fatalf("failed to read blob: %v", err)
	}
	return data
}

func TestGetOrRefreshIdempotent(t *testing.T) {
	fake := newFakeCI(100)
	fake.setArtifact(100, "windows", []byte("zip-100"))
	cache := newTestCache(t, fake)
	ctx := context.Background()

	first, err := cache.GetOrRefresh(ctx, "skytemple", "windows", testRef)
	if err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}
	second, err := cache.GetOrRefresh(ctx, "skytemple", "windows", testRef)
	if err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}

	if got := fake.downloads.Load(); got != 1 {
		t.Errorf("downloads = %d, want 1", got)
	}
	if !bytes.Equal(readBlob(t, first), readBlob(t, second)) {
		t.Error("repeated calls served different bytes")
	}
	if second.RunID != 100 || second.Size != int64(len("zip-100")) {
		t.Errorf("Blob = %+v, want run 100 of size %d", second, len("zip-100"))
	}
	if want := filepath.Join(cache.Dir(), "skytemple", "windows.zip"); second.Path != want {
		t.Errorf("Path = %q, want %q", second.Path, want)
	}
}

func TestGetOrRefreshNewRunReplacesBlob(t *testing.T) {
	fake := newFakeCI(100)
	fake.setArtifact(100, "windows", []byte("a much longer archive from run 100"))
	fake.setArtifact(101, "windows", []byte("run 101"))
	cache := newTestCache(t, fake)
	ctx := context.Background()

	if _, err := cache.GetOrRefresh(ctx, "skytemple", "windows", testRef); err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}

	fake.setRun(101)
	blob, err := cache.GetOrRefresh(ctx, "skytemple", "windows", testRef)
	if err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}

	if got := fake.downloads.Load(); got != 2 {
		t.Errorf("downloads = %d, want 2", got)
	}
	if got := readBlob(t, blob); string(got) != "run 101" {
		t.Errorf("blob = %q, want the run 101 archive only", got)
	}
	marker, _ := os.ReadFile(filepath.Join(cache.Dir(), "skytemple", "windows.runid"))
	if string(marker) != "101" {
		t.Errorf("marker = %q, want 101", marker)
	}
}

func TestGetOrRefreshHandleOutlivesReplacement(t *testing.T) {
	fake := newFakeCI(100)
	fake.setArtifact(100, "windows", []byte("zip-100"))
	fake.setArtifact(101, "windows", []byte("run 101"))
	cache := newTestCache(t, fake)
	ctx := context.Background()

	old, err := cache.GetOrRefresh(ctx, "skytemple", "windows", testRef)
	if err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}

	fake.setRun(101)
	current, err := cache.GetOrRefresh(ctx, "skytemple", "windows", testRef)
	if err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}

	if got := readBlob(t, old); string(got) != "zip-100" || old.RunID != 100 {
		t.Errorf("old handle = run %d %q, want run 100 \"zip-100\"", old.RunID, got)
	}
	if got := readBlob(t, current); string(got) != "run 101" || current.RunID != 101 {
		t.Errorf("current handle = run %d %q, want run 101 \"run 101\"", current.RunID, got)
	}
}

func TestGetOrRefreshReplacedBeforeOpen(t *testing.T) {
	fake := newFakeCI(100)
	fake.setArtifact(100, "windows", []byte("zip-100"))
	fake.setArtifact(101, "windows", []byte("run 101"))
	cache := newTestCache(t, fake)
	ctx := context.Background()

	// A second refresh lands between the first refresh and its open.
	var replaced bool
	cache.beforeOpen = func() {
		if replaced {
			return
		}
		replaced = true
		if err := cache.store(ctx, "skytemple", "windows", "101", []byte("run 101")); err != nil {
			t.Fatalf("store() error = %v", err)
		}
		fake.setRun(101)
	}

	blob, err := cache.GetOrRefresh(ctx, "skytemple", "windows", testRef)
	if err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}
	if got := readBlob(t, blob); blob.RunID != 101 || string(got) != "run 101" {
		t.Errorf("Blob = run %d %q, want run 101 \"run 101\"", blob.RunID, got)
	}
}

func TestGetOrRefreshKeepsBeingReplaced(t *testing.T) {
	fake := newFakeCI(100)
	fake.setArtifact(100, "windows", []byte("zip-100"))
	cache := newTestCache(t, fake)
	ctx := context.Background()

	cache.beforeOpen = func() {
		if err := cache.store(ctx, "skytemple", "windows", "100", []byte("zip-100")); err != nil {
			t.Fatalf("store() error = %v", err)
		}
	}

	_, err := cache.GetOrRefresh(ctx, "skytemple", "windows", testRef)
	if !errors.Is(err, ErrBlobReplaced) {
		t.Fatalf("GetOrRefresh() error = %v, want ErrBlobReplaced", err)
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != "open" {
		t.Errorf("error = %#v, want an open StoreError", err)
	}
}

func TestGetOrRefreshIncompletePairIsMiss(t *testing.T) {
	tests := []struct {
		name   string
		remove string
	}{
		{name: "marker without blob", remove: "windows.zip"},
		{name: "blob without marker", remove: "windows.runid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeCI(100)
			fake.setArtifact(100, "windows", []byte("zip-100"))
			cache := newTestCache(t, fake)
			ctx := context.Background()

			if _, err := cache.GetOrRefresh(ctx, "skytemple", "windows", testRef); err != nil {
				t.Fatalf("GetOrRefresh() error = %v", err)
			}
			if err := os.Remove(filepath.Join(cache.Dir(), "skytemple", tt.remove)); err != nil {
				t.Fatalf("failed to remove %s: %v", tt.remove, err)
			}
			if _, ok := cache.Cached("skytemple", "windows"); ok {
				t.Error("Cached() reported a hit for an incomplete pair")
			}

			blob, err := cache.GetOrRefresh(ctx, "skytemple", "windows", testRef)
			if err != nil {
				t.Fatalf("GetOrRefresh() error = %v", err)
			}
			if got := fake.downloads.Load(); got != 2 {
				t.Errorf("downloads = %d, want 2", got)
			}
			if string(readBlob(t, blob)) != "zip-100" {
				t.Error("blob not restored")
			}
		})
	}
}

func TestGetOrRefreshConcurrent(t *testing.T) {
	fake := newFakeCI(100)
	fake.setArtifact(100, "windows", []byte("zip-100"))
	fake.gate = make(chan struct{})
	cache := newTestCache(t, fake)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			blob, err := cache.GetOrRefresh(context.Background(), "skytemple", "windows", testRef)
			if err != nil {
				errs <- err
				return
			}
			_ = blob.Close()
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(fake.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("GetOrRefresh() error = %v", err)
	}
	if got := fake.downloads.Load(); got != 1 {
		t.Errorf("downloads = %d, want 1", got)
	}
}

func TestGetOrRefreshUnavailable(t *testing.T) {
	t.Run("no successful run", func(t *testing.T) {
		fake := newFakeCI(100)
		fake.runErr = fmt.Errorf("%w: %s", ci.ErrNoSuccessfulRun, testRef)
		cache := newTestCache(t, fake)

		_, err := cache.GetOrRefresh(context.Background(), "skytemple", "windows", testRef)
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) || fetchErr.Op != "latest run" {
			t.Errorf("GetOrRefresh() error = %v, want *FetchError for latest run", err)
		}
		if !IsUnavailable(err) {
			t.Errorf("IsUnavailable(%v) = false, want true", err)
		}
	})

	t.Run("artifact missing from run", func(t *testing.T) {
		fake := newFakeCI(100)
		history := &fakeHistory{}
		cache := newTestCache(t, fake, WithHistory(history))

		_, err := cache.GetOrRefresh(context.Background(), "skytemple", "linux", testRef)
		if !IsUnavailable(err) {
			t.Errorf("IsUnavailable(%v) = false, want true", err)
		}
		if len(history.records) != 1 || history.records[0].Err == nil {
			t.Errorf("history = %+v, want one failed record", history.records)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		fake := newFakeCI(100)
		fake.runErr = errors.New("connection reset")
		cache := newTestCache(t, fake)

		_, err := cache.GetOrRefresh(context.Background(), "skytemple", "windows", testRef)
		if err == nil || IsUnavailable(err) {
			t.Errorf("GetOrRefresh() error = %v, want an error that is not IsUnavailable", err)
		}
	})
}

func TestGetOrRefreshRecordsHistory(t *testing.T) {
	fake := newFakeCI(100)
	fake.setArtifact(100, "windows", []byte("zip-100"))
	history := &fakeHistory{}
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	cache := newTestCache(t, fake, WithHistory(history), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := cache.GetOrRefresh(ctx, "skytemple", "windows", testRef); err != nil {
			t.Fatalf("GetOrRefresh() error = %v", err)
		}
	}

	if len(history.records) != 1 {
		t.Fatalf("len(records) = %d, want 1 (hits are not recorded)", len(history.records))
	}
	rec := history.records[0]
	sum := sha256.Sum256([]byte("zip-100"))
	if rec.RunID != 100 || rec.Size != 7 || rec.SHA256 != hex.EncodeToString(sum[:]) || !rec.FetchedAt.Equal(now) {
		t.Errorf("record = %+v", rec)
	}
}

func TestInvalidNames(t *testing.T) {
	cache := newTestCache(t, newFakeCI(1))
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if _, err := cache.GetOrRefresh(context.Background(), name, "windows", testRef); !errors.Is(err, ErrInvalidName) {
			t.Errorf("GetOrRefresh(%q) error = %v, want ErrInvalidName", name, err)
		}
		if _, err := cache.GetOrRefresh(context.Background(), "skytemple", name, testRef); !errors.Is(err, ErrInvalidName) {
			t.Errorf("GetOrRefresh(artifact %q) error = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestPrune(t *testing.T) {
	fake := newFakeCI(100)
	fake.setArtifact(100, "windows", []byte("zip-100"))
	cache := newTestCache(t, fake)

	if _, err := cache.GetOrRefresh(context.Background(), "skytemple", "windows", testRef); err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}
	if _, ok := cache.Cached("skytemple", "windows"); !ok {
		t.Fatal("Cached() = false after fetch")
	}
	if err := cache.Prune("skytemple"); err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if _, ok := cache.Cached("skytemple", "windows"); ok {
		t.Error("Cached() = true after Prune")
	}
}

func TestRunMarkdown(t *testing.T) {
	run := &ci.Run{
		Number:  42,
		HTMLURL: "https://github.com/SkyTemple/skytemple/actions/runs/5501",
		Commit: ci.Commit{
			SHA:     "0123456789abcdef",
			Message: "Fix sprite import\n\nDetails.",
			Author:  "Alice",
		},
	}

	want := "Latest commit: [0123456](https://github.com/SkyTemple/skytemple/commit/0123456789abcdef) by Alice: *Fix sprite import*.\n\n" +
		"Based on latest successful run: [#42](https://github.com/SkyTemple/skytemple/actions/runs/5501)."
	if got := RunMarkdown(testRef, run); got != want {
		t.Errorf("RunMarkdown() = %q, want %q", got, want)
	}
}

type fakeScanner struct {
	reject  string
	scanned []string
}

func (s *fakeScanner) Check(_ context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s.scanned = append(s.scanned, string(data))
	if string(data) == s.reject {
		return errors.New("Eicar-Signature FOUND")
	}
	return nil
}

func TestGetOrRefreshScansArchives(t *testing.T) {
	fake := newFakeCI(100)
	fake.setArtifact(100, "windows", []byte("zip-100"))
	fake.setArtifact(101, "windows", []byte("infected"))
	scanner := &fakeScanner{reject: "infected"}
	history := &fakeHistory{}
	cache := newTestCache(t, fake, WithScanner(scanner), WithHistory(history))
	ctx := context.Background()

	if _, err := cache.GetOrRefresh(ctx, "skytemple", "windows", testRef); err != nil {
		t.Fatalf("GetOrRefresh() error = %v", err)
	}
	if len(scanner.scanned) != 1 || scanner.scanned[0] != "zip-100" {
		t.Fatalf("scanned = %v, want the run 100 archive", scanner.scanned)
	}

	fake.setRun(101)
	_, err := cache.GetOrRefresh(ctx, "skytemple", "windows", testRef)
	var scanErr *ScanError
	if !errors.As(err, &scanErr) {
		t.Fatalf("GetOrRefresh() error = %v, want *ScanError", err)
	}
	if _, ok := cache.Cached("skytemple", "windows"); ok {
		t.Error("Cached() reported a hit after a rejected archive")
	}
	if len(history.records) != 2 || history.records[1].Err == nil {
		t.Errorf("records = %+v, want the rejection recorded", history.records)
	}

	entries, err := os.ReadDir(filepath.Join(cache.Dir(), "skytemple"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	for _, e := range entries {
		if e.Name() != "windows.zip" {
			t.Errorf("unexpected file %s left in cache", e.Name())
		}
	}
}
