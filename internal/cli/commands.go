package cli

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/clean-dependency-project/depbox/internal/artifacttype"
	"github.com/clean-dependency-project/depbox/internal/catalog"
	"github.com/clean-dependency-project/depbox/internal/endpoint"
	"github.com/clean-dependency-project/depbox/internal/storage"
)

// ProductSummary is one product of the catalog listing.
type ProductSummary struct {
	Key      string           `json:"key"`
	Name     string           `json:"name"`
	Latest   string           `json:"latest,omitempty"`
	Nightly  bool             `json:"nightly"`
	Versions []VersionSummary `json:"versions"`
}

// VersionSummary is one release of a product.
type VersionSummary struct {
	Name            string `json:"name"`
	IsLatest        bool   `json:"is_latest,omitempty"`
	IsPreRelease    bool   `json:"is_pre_release,omitempty"`
	PreReleaseLabel string `json:"pre_release_label,omitempty"`
}

// Resolution is the output of the resolve command.
type Resolution struct {
	Product      string                     `json:"product"`
	Name         string                     `json:"name"`
	Version      string                     `json:"version"`
	Date         string                     `json:"date,omitempty"`
	Description  string                     `json:"description,omitempty"`
	BestEndpoint string                     `json:"best_endpoint"`
	Descriptions []artifacttype.Description `json:"descriptions,omitempty"`
	Artifacts    []artifacttype.Artifact    `json:"artifacts"`
}

// EndpointView is one endpoint of the endpoints command.
type EndpointView struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Location string `json:"location,omitempty"`
	Best     bool   `json:"best"`
}

// NightlyView is the output of the nightly info command.
type NightlyView struct {
	Product   string                      `json:"product"`
	Status    *artifacttype.NightlyStatus `json:"status"`
	Artifacts []artifacttype.Artifact     `json:"artifacts"`
}

// FetchResult is the output of the nightly fetch command.
type FetchResult struct {
	Product  string `json:"product"`
	Key      string `json:"key"`
	Path     string `json:"path,omitempty"`
	RunID    int64  `json:"run_id,omitempty"`
	Size     int64  `json:"size,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
	Document string `json:"document,omitempty"`
}

// PruneResult is the output of the nightly prune command.
type PruneResult struct {
	Product string       `json:"product"`
	Removed []PrunedBlob `json:"removed"`
}

// PrunedBlob is a mirrored archive removed by the nightly prune command.
type PrunedBlob struct {
	Key      string `json:"key"`
	Artifact string `json:"artifact"`
	RunID    int64  `json:"run_id"`
	Size     int64  `json:"size"`
}

// HistoryView is the output of the nightly history command.
type HistoryView struct {
	Fetches []*storage.NightlyFetch `json:"fetches"`
	Stats   *storage.Stats          `json:"stats"`
}

func catalogCommand(c *cli.Context) error {
	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.close()

	cat, err := s.catalog(c.Context)
	if err != nil {
		return err
	}

	summaries := make([]ProductSummary, 0, cat.Products.Len())
	for _, key := range cat.Products.Keys() {
		p, _ := cat.Products.Get(key)
		summary := ProductSummary{Key: key, Name: p.Name, Nightly: p.Nightly != nil}
		if latest, ok := p.Versions.Latest(cat.PreReleasePatterns); ok {
			summary.Latest = latest.Name
		}
		for _, v := range p.Versions.List(cat.PreReleasePatterns) {
			summary.Versions = append(summary.Versions, VersionSummary(v))
		}
		summaries = append(summaries, summary)
	}

	return render(c, summaries, func(w io.Writer) {
		for _, p := range summaries {
			fmt.Fprintf(w, "%s (%s)\n", p.Name, p.Key)
			for _, v := range p.Versions {
				fmt.Fprintf(w, "  %s%s\n", v.Name, versionMarker(v))
			}
			if p.Nightly {
				fmt.Fprintln(w, "  nightly")
			}
		}
	})
}

func versionMarker(v VersionSummary) string {
	switch {
	case v.IsLatest:
		return " [latest]"
	case v.IsPreRelease:
		return " [" + v.PreReleaseLabel + "]"
	default:
		return ""
	}
}

func resolveCommand(c *cli.Context) error {
	clientIP, err := parseClientIP(c.String("client-ip"))
	if err != nil {
		return err
	}

	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := c.Context
	cat, err := s.catalog(ctx)
	if err != nil {
		return err
	}
	productKey := c.String("product")
	product, err := cat.Product(productKey)
	if err != nil {
		return err
	}

	var version catalog.NamedVersion
	var ok bool
	if name := c.String("version"); name != "" {
		version, ok = product.Versions.Get(name)
	} else {
		version, ok = product.Versions.Latest(cat.PreReleasePatterns)
	}
	if !ok {
		return fmt.Errorf("%w: %s %s", catalog.ErrVersionNotFound, productKey, c.String("version"))
	}

	best := s.router.Best(ctx, clientIP)
	res := Resolution{
		Product:      productKey,
		Name:         product.Name,
		Version:      version.Name,
		Date:         version.Info.Date,
		Description:  version.Info.Description,
		BestEndpoint: best.Key,
		Descriptions: s.dispatcher.Describe(ctx, product, version),
		Artifacts:    s.dispatcher.Collect(ctx, productKey, product, version, s.router.Endpoints()),
	}

	s.logger.Info("resolved release",
		"product", productKey,
		"version", version.Name,
		"artifacts", len(res.Artifacts),
		"best_endpoint", best.Key)

	return render(c, res, func(w io.Writer) {
		fmt.Fprintf(w, "%s %s", res.Name, res.Version)
		if res.Date != "" {
			fmt.Fprintf(w, " (%s)", res.Date)
		}
		fmt.Fprintln(w)
		for _, d := range res.Descriptions {
			fmt.Fprintf(w, "\n%s:\n%s\n", d.Title, strings.TrimSpace(d.Body))
		}
		for _, a := range res.Artifacts {
			fmt.Fprintln(w)
			writeArtifact(w, a, best.Key)
		}
	})
}

func writeArtifact(w io.Writer, a artifacttype.Artifact, best string) {
	fmt.Fprintf(w, "%s: %s", a.Key, a.Title)
	if a.Subtitle != "" {
		fmt.Fprintf(w, " - %s", a.Subtitle)
	}
	if a.Unsupported {
		fmt.Fprint(w, " (unsupported)")
	}
	fmt.Fprintln(w)
	if a.FileSize != "" || a.ModifiedDate != "" {
		fmt.Fprintf(w, "  %s %s\n", a.FileSize, a.ModifiedDate)
	}
	for _, l := range a.Links {
		marker := ""
		if l.Endpoint == best {
			marker = " *"
		}
		fmt.Fprintf(w, "  %s: %s%s\n", l.Name, l.URL, marker)
	}
}

func endpointsCommand(c *cli.Context) error {
	clientIP, err := parseClientIP(c.String("client-ip"))
	if err != nil {
		return err
	}

	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.close()

	best := s.router.Best(c.Context, clientIP)
	views := endpointViews(s.router.Endpoints(), best.Key)

	return render(c, views, func(w io.Writer) {
		fmt.Fprintf(w, "strategy: %s\n", s.router.Strategy())
		for _, v := range views {
			marker := " "
			if v.Best {
				marker = "*"
			}
			fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\n", marker, v.Key, v.Name, v.URL, v.Location)
		}
	})
}

func endpointViews(set *endpoint.Set, best string) []EndpointView {
	views := make([]EndpointView, 0, set.Len())
	for _, ep := range set.All() {
		v := EndpointView{Key: ep.Key, Name: ep.Name(), URL: ep.URL, Best: ep.Key == best}
		if ep.Location != nil {
			v.Location = ep.Location.String()
		}
		views = append(views, v)
	}
	return views
}

func nightlyInfoCommand(c *cli.Context) error {
	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := c.Context
	productKey := c.String("product")
	product, err := s.product(ctx, productKey)
	if err != nil {
		return err
	}

	artifacts, err := s.dispatcher.CollectNightly(ctx, productKey, product)
	if err != nil {
		return err
	}
	status, err := s.dispatcher.NightlyInfo(ctx, productKey, product)
	if err != nil {
		s.logger.Error("failed to query latest nightly run", "product", productKey, "error", err)
		return fmt.Errorf("failed to query latest nightly run: %w", err)
	}

	view := NightlyView{Product: productKey, Status: status, Artifacts: artifacts}
	return render(c, view, func(w io.Writer) {
		if status.Run == nil {
			fmt.Fprintln(w, "No successful nightly run.")
		} else {
			fmt.Fprintln(w, status.Markdown)
		}
		for _, a := range artifacts {
			fmt.Fprintln(w)
			writeArtifact(w, a, "")
		}
	})
}

func nightlyFetchCommand(c *cli.Context) error {
	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.close()

	ctx := c.Context
	productKey, key := c.String("product"), c.String("key")
	product, err := s.product(ctx, productKey)
	if err != nil {
		return err
	}

	dl, err := s.dispatcher.NightlyDownload(ctx, productKey, product, key)
	if err != nil {
		if artifacttype.IsNotFound(err) {
			return fmt.Errorf("nothing to download for %s/%s: %w", productKey, key, err)
		}
		return fmt.Errorf("failed to fetch %s/%s: %w", productKey, key, err)
	}
	defer dl.Close()

	res := FetchResult{Product: productKey, Key: key}
	switch {
	case dl.Blob != nil:
		res.Path, res.RunID, res.Size = dl.Blob.Path, dl.Blob.RunID, dl.Blob.Size
		// Hash the open handle: the file at Path may already belong to a newer run.
		h := sha256.New()
		if _, err := io.Copy(h, io.NewSectionReader(dl.Blob.File, 0, dl.Blob.Size)); err != nil {
			return fmt.Errorf("failed to read %s: %w", res.Path, err)
		}
		res.SHA256 = hex.EncodeToString(h.Sum(nil))
		s.logger.Info("nightly artifact ready", "product", productKey, "artifact", key, "path", res.Path, "run_id", res.RunID)
	case dl.Flatpakref != nil:
		res.Document = dl.Flatpakref.String()
	}

	return render(c, res, func(w io.Writer) {
		if res.Document != "" {
			fmt.Fprint(w, res.Document)
			return
		}
		fmt.Fprintln(w, res.Path)
	})
}

func nightlyPruneCommand(c *cli.Context) error {
	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.close()

	productKey := c.String("product")
	product, err := s.product(c.Context, productKey)
	if err != nil {
		return err
	}

	res := PruneResult{Product: productKey, Removed: []PrunedBlob{}}
	if product.Nightly != nil {
		for _, d := range product.Nightly.Downloads {
			if blob, ok := s.nightlies.Cached(productKey, d.Spec.URL()); ok {
				res.Removed = append(res.Removed, PrunedBlob{Key: d.Key, Artifact: d.Spec.URL(), RunID: blob.RunID, Size: blob.Size})
			}
		}
	}
	if err := s.nightlies.Prune(productKey); err != nil {
		return fmt.Errorf("failed to prune nightly mirror of %s: %w", productKey, err)
	}
	s.logger.Info("pruned nightly mirror", "product", productKey, "removed", len(res.Removed))

	return render(c, res, func(w io.Writer) {
		if len(res.Removed) == 0 {
			fmt.Fprintf(w, "Nothing mirrored for %s.\n", productKey)
			return
		}
		for _, b := range res.Removed {
			fmt.Fprintf(w, "%s\t%s\trun %d\t%s\n", b.Key, b.Artifact, b.RunID, artifacttype.FormatSize(b.Size))
		}
	})
}

func nightlyHistoryCommand(c *cli.Context) error {
	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.close()

	if s.history == nil {
		return errors.New("no history database configured (nightly.history_db)")
	}

	ctx := c.Context
	fetches, err := s.history.ListFetches(ctx, c.String("product"), c.Int("limit"))
	if err != nil {
		return err
	}
	stats, err := s.history.Stats(ctx)
	if err != nil {
		return err
	}

	view := HistoryView{Fetches: fetches, Stats: stats}
	return render(c, view, func(w io.Writer) {
		for _, f := range fetches {
			fmt.Fprintf(w, "%s %s/%s run=%d status=%s", f.FetchedAt.UTC().Format(artifacttype.DateLayout), f.Product, f.Artifact, f.RunID, f.Status)
			if f.ErrorMessage != "" {
				fmt.Fprintf(w, " error=%q", f.ErrorMessage)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "total: %d\n", stats.Total)
	})
}

func flatpakrefCommand(c *cli.Context) error {
	s, err := setup(c)
	if err != nil {
		return err
	}
	defer s.close()

	product, err := s.product(c.Context, c.String("product"))
	if err != nil {
		return err
	}

	key := c.String("key")
	t, err := s.registry.Lookup(key)
	if err != nil {
		return err
	}
	fp, ok := t.(*artifacttype.Flatpak)
	if !ok {
		return fmt.Errorf("%s is not a flatpak artifact type", key)
	}
	ref, err := fp.Flatpakref(product)
	if err != nil {
		return fmt.Errorf("product %s: %w", c.String("product"), err)
	}

	_, err = fmt.Fprint(c.App.Writer, ref.String())
	return err
}
