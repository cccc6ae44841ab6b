package bucket

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awss3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeListAPI serves pages of objects; each page is one call.
type fakeListAPI struct {
	pages [][]awss3types.Object
	err   error
	calls atomic.Int32
}

func (f *fakeListAPI) ListObjectsV2(_ context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}

	page := 0
	if in.ContinuationToken != nil {
		page = int(aws.ToString(in.ContinuationToken)[0] - '0')
	}
	out := &awss3.ListObjectsV2Output{Contents: f.pages[page]}
	if page+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(string(rune('0' + page + 1)))
	}
	return out, nil
}

var modified = time.Date(2024, 2, 3, 4, 5, 0, 0, time.UTC)

func object(key string, size int64) awss3types.Object {
	return awss3types.Object{Key: aws.String(key), Size: aws.Int64(size), LastModified: aws.Time(modified)}
}

func TestLookup(t *testing.T) {
	api := &fakeListAPI{pages: [][]awss3types.Object{
		{object("depbox/skytemple/1.6.0/skytemple-win64.exe", 1024)},
		{object("depbox/skytemple/1.6.0/skytemple-mac.dmg", 2048)},
	}}
	lister, err := NewLister(api, Config{Bucket: "downloads", Prefix: "depbox/"})
	if err != nil {
		t.Fatalf("NewLister() error = %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		path     string
		wantOK   bool
		wantSize int64
	}{
		{path: "skytemple/1.6.0/skytemple-win64.exe", wantOK: true, wantSize: 1024},
		{path: "/skytemple/1.6.0/skytemple-mac.dmg", wantOK: true, wantSize: 2048},
		{path: "skytemple/1.6.0/missing.zip"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			obj, ok := lister.Lookup(ctx, tt.path)
			if ok != tt.wantOK {
				t.Fatalf("Lookup() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (obj.Size != tt.wantSize || !obj.LastModified.Equal(modified)) {
				t.Errorf("Lookup() = %+v", obj)
			}
		})
	}

	if got := api.calls.Load(); got != 2 {
		t.Errorf("ListObjectsV2 called %d times, want 2 (one listing of two pages)", got)
	}
}

func TestListCachedWithTTL(t *testing.T) {
	api := &fakeListAPI{pages: [][]awss3types.Object{{object("a.zip", 1)}}}
	now := modified
	lister, err := NewLister(api, Config{Bucket: "downloads", TTL: time.Minute}, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewLister() error = %v", err)
	}
	ctx := context.Background()

	_, _ = lister.List(ctx)
	_, _ = lister.List(ctx)
	if got := api.calls.Load(); got != 1 {
		t.Errorf("calls within TTL = %d, want 1", got)
	}

	now = now.Add(time.Minute)
	_, _ = lister.List(ctx)
	if got := api.calls.Load(); got != 2 {
		t.Errorf("calls after TTL = %d, want 2", got)
	}
}

func TestLookupListingFailure(t *testing.T) {
	var logs bytes.Buffer
	api := &fakeListAPI{err: errors.New("access denied")}
	lister, err := NewLister(api, Config{Bucket: "downloads"}, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	if err != nil {
		t.Fatalf("NewLister() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, ok := lister.Lookup(context.Background(), "a.zip"); ok {
			t.Error("Lookup() ok = true on listing failure")
		}
	}
	if n := strings.Count(logs.String(), "bucket listing unavailable"); n != 1 {
		t.Errorf("warning logged %d times, want 1", n)
	}
}

func TestNewListerRequiresBucket(t *testing.T) {
	if _, err := NewLister(&fakeListAPI{}, Config{}); !errors.Is(err, ErrNoBucket) {
		t.Errorf("NewLister() error = %v, want ErrNoBucket", err)
	}
}
