// Package githubsrc fetches portfolio source data from GitHub. Each
// repository owned by the configured user may carry a project
// description file and a showcase image; repositories without them are
// skipped.
package githubsrc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/google/go-github/v66/github"
)

// RawProject is the project description committed to each source
// repository.
type RawProject struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Technologies []string `json:"technologies"`
	Image        string   `json:"image"`
	Source       string   `json:"source"`
}

// Asset pairs a project description with its showcase image payload.
type Asset struct {
	Project   RawProject
	ImageFile string
	ImageData []byte
}

// FetchError indicates that the source repository listing itself could
// not be retrieved. Per-repository failures are logged and skipped
// instead.
type FetchError struct {
	User string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch repositories for %q: %v", e.User, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Config holds configuration for the GitHub source fetcher.
type Config struct {
	// User is the GitHub account whose repositories are scanned.
	User string
	// Token optionally authenticates API requests, raising the rate
	// limit and granting access to private repositories.
	Token string
	// BasePath is the directory within each repository that holds
	// portfolio data. Defaults to "misc".
	BasePath string
	// DataPath is the project description file below BasePath.
	// Defaults to "data/project.json".
	DataPath string
	// ImgPath is the image directory below BasePath. Defaults to "img".
	ImgPath string
}

// Fetcher retrieves project assets from the GitHub API.
type Fetcher struct {
	cfg    Config
	client *github.Client
}

// New creates a Fetcher from the given configuration.
func New(cfg Config) *Fetcher {
	client := github.NewClient(nil)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	return NewWithClient(cfg, client)
}

// NewWithClient creates a Fetcher using a caller-supplied GitHub
// client.
func NewWithClient(cfg Config, client *github.Client) *Fetcher {
	if cfg.BasePath == "" {
		cfg.BasePath = "misc"
	}
	if cfg.DataPath == "" {
		cfg.DataPath = "data/project.json"
	}
	if cfg.ImgPath == "" {
		cfg.ImgPath = "img"
	}
	return &Fetcher{cfg: cfg, client: client}
}

// FetchAssets scans every repository of the configured user and
// returns one Asset per repository that carries portfolio data. A
// failure to list the repositories returns a FetchError; a failure
// within a single repository only skips that repository.
func (f *Fetcher) FetchAssets(ctx context.Context) ([]Asset, error) {
	opts := &github.RepositoryListByUserOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var assets []Asset
	for {
		repos, resp, err := f.client.Repositories.ListByUser(ctx, f.cfg.User, opts)
		if err != nil {
			return nil, &FetchError{User: f.cfg.User, Err: err}
		}

		for _, repo := range repos {
			asset, err := f.fetchRepo(ctx, repo.GetName())
			if err != nil {
				slog.Warn("Skipping repository", "repo", repo.GetName(), "err", err)
				continue
			}
			assets = append(assets, asset)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return assets, nil
}

func (f *Fetcher) fetchRepo(ctx context.Context, repo string) (Asset, error) {
	dataPath := path.Join(f.cfg.BasePath, f.cfg.DataPath)

	file, _, _, err := f.client.Repositories.GetContents(ctx, f.cfg.User, repo, dataPath, nil)
	if err != nil {
		return Asset{}, fmt.Errorf("get %s: %w", dataPath, err)
	}
	if file == nil {
		return Asset{}, fmt.Errorf("%s is not a file", dataPath)
	}

	content, err := file.GetContent()
	if err != nil {
		return Asset{}, fmt.Errorf("decode %s: %w", dataPath, err)
	}

	var project RawProject
	if err := json.Unmarshal([]byte(content), &project); err != nil {
		return Asset{}, fmt.Errorf("parse %s: %w", dataPath, err)
	}
	if project.Image == "" {
		return Asset{}, fmt.Errorf("%s names no image", dataPath)
	}
	if project.Source == "" {
		project.Source = fmt.Sprintf("https://github.com/%s/%s", f.cfg.User, repo)
	}

	imgPath := path.Join(f.cfg.BasePath, f.cfg.ImgPath, project.Image)
	imgFile, _, _, err := f.client.Repositories.GetContents(ctx, f.cfg.User, repo, imgPath, nil)
	if err != nil {
		return Asset{}, fmt.Errorf("get %s: %w", imgPath, err)
	}
	if imgFile == nil {
		return Asset{}, fmt.Errorf("%s is not a file", imgPath)
	}

	imgContent, err := imgFile.GetContent()
	if err != nil {
		return Asset{}, fmt.Errorf("decode %s: %w", imgPath, err)
	}

	return Asset{
		Project:   project,
		ImageFile: project.Image,
		ImageData: []byte(imgContent),
	}, nil
}
