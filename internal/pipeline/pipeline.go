// Package pipeline orchestrates the asset sync: fetch source assets,
// detect changes against the object store, transcode what changed, and
// publish the aggregate project document.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tgasco/portfolio-sync/internal/digest"
	"github.com/tgasco/portfolio-sync/internal/githubsrc"
	"github.com/tgasco/portfolio-sync/internal/imaging"
	"github.com/tgasco/portfolio-sync/internal/store"
)

// Project is one entry of the published aggregate document. Image maps
// format to size to the variant's location URL.
type Project struct {
	Title        string                       `json:"title"`
	Description  string                       `json:"description"`
	Technologies []string                     `json:"technologies"`
	Source       string                       `json:"source"`
	Image        map[string]map[string]string `json:"image"`
}

// Fetcher supplies the source assets for a sync run.
type Fetcher interface {
	FetchAssets(ctx context.Context) ([]githubsrc.Asset, error)
}

// Pipeline runs full sync passes against an object store.
type Pipeline struct {
	fetcher     Fetcher
	store       store.Store
	concurrency int
}

// New creates a Pipeline. Assets are processed with a bounded level of
// parallelism since transcoding is CPU heavy.
func New(fetcher Fetcher, st store.Store) *Pipeline {
	return &Pipeline{
		fetcher:     fetcher,
		store:       st,
		concurrency: 4,
	}
}

// Run executes one sync pass and returns the published projects.
//
// Assets whose image cannot be decoded are logged and skipped; they do
// not appear in the aggregate document. Store failures abort the run so
// the scheduler can retry it, leaving the previous aggregate document
// untouched.
func (p *Pipeline) Run(ctx context.Context) ([]Project, error) {
	assets, err := p.fetcher.FetchAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch assets: %w", err)
	}

	projects := make([]Project, len(assets))
	ok := make([]bool, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, asset := range assets {
		g.Go(func() error {
			project, err := p.syncAsset(gctx, asset)

			var decodeErr *imaging.DecodeError
			if errors.As(err, &decodeErr) {
				slog.Warn("Skipping undecodable asset", "image", asset.ImageFile, "err", err)
				return nil
			}
			if err != nil {
				return fmt.Errorf("sync asset %q: %w", asset.ImageFile, err)
			}

			projects[i] = project
			ok[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	published := make([]Project, 0, len(projects))
	for i, project := range projects {
		if ok[i] {
			published = append(published, project)
		}
	}

	data, err := json.Marshal(published)
	if err != nil {
		return nil, fmt.Errorf("encode aggregate document: %w", err)
	}
	if _, err := p.store.Put(ctx, store.AggregateKey, data, "application/json"); err != nil {
		return nil, fmt.Errorf("publish aggregate document: %w", err)
	}

	slog.Info("Sync complete", "assets", len(assets), "published", len(published))
	return published, nil
}

// syncAsset brings one asset's stored objects up to date and returns
// its aggregate document entry. When the stored original already
// carries the source digest, nothing is uploaded and the variant URLs
// are re-derived from the key scheme.
func (p *Pipeline) syncAsset(ctx context.Context, asset githubsrc.Asset) (Project, error) {
	name, ext := splitImageName(asset.ImageFile)
	sum := digest.Sum(asset.ImageData)

	originalKey := store.OriginalKey(name, ext)
	current, err := p.store.ExistsAndCurrent(ctx, originalKey, sum)
	if err != nil {
		return Project{}, err
	}

	if current {
		slog.Debug("Asset unchanged", "image", asset.ImageFile, "digest", sum)
	} else {
		slog.Info("Asset changed, transcoding", "image", asset.ImageFile, "digest", sum)

		variants, err := imaging.Transcode(asset.ImageData, imaging.AllTargets())
		if err != nil {
			return Project{}, err
		}

		// The original goes up last: its digest marks the asset as
		// current, so it must not become visible until every variant
		// exists. An interrupted batch then leaves a stale digest and
		// the next run redoes the full set.
		for _, v := range variants {
			key := store.VariantKey(name, v.Size, v.Format)
			if _, err := p.store.Put(ctx, key, v.Data, v.Format.ContentType()); err != nil {
				return Project{}, err
			}
		}
		if _, err := p.store.Put(ctx, originalKey, asset.ImageData, imaging.ContentTypeForExt(ext)); err != nil {
			return Project{}, err
		}
	}

	project := Project{
		Title:        asset.Project.Title,
		Description:  asset.Project.Description,
		Technologies: asset.Project.Technologies,
		Source:       asset.Project.Source,
		Image:        map[string]map[string]string{},
	}
	for _, format := range imaging.Formats {
		urls := map[string]string{}
		for _, size := range imaging.Sizes {
			urls[string(size)] = p.store.URLFor(store.VariantKey(name, size, format))
		}
		project.Image[string(format)] = urls
	}

	return project, nil
}

// splitImageName splits "photo.jpg" into ("photo", "jpg").
func splitImageName(filename string) (name string, ext string) {
	ext = strings.TrimPrefix(path.Ext(filename), ".")
	name = strings.TrimSuffix(filename, path.Ext(filename))
	return name, ext
}
