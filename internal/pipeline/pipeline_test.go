package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tgasco/portfolio-sync/internal/digest"
	"github.com/tgasco/portfolio-sync/internal/githubsrc"
	"github.com/tgasco/portfolio-sync/internal/pipeline"
	"github.com/tgasco/portfolio-sync/internal/store"
)

type fakeObject struct {
	data        []byte
	contentType string
	digest      string
}

// fakeStore is an in-memory store.Store that records writes. Writes to
// failKey fail failures times before healing, mimicking a transient
// store outage.
type fakeStore struct {
	mu       sync.Mutex
	objects  map[string]fakeObject
	puts     int
	putErr   error
	failKey  string
	failures int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string]fakeObject{}}
}

func (s *fakeStore) ExistsAndCurrent(ctx context.Context, key string, sum string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return ok && obj.digest == sum, nil
}

func (s *fakeStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return "", s.putErr
	}
	if key == s.failKey && s.failures > 0 {
		s.failures--
		return "", &store.StoreError{Op: "put", Key: key, Err: errors.New("connection reset")}
	}
	s.puts++
	s.objects[key] = fakeObject{data: data, contentType: contentType, digest: digest.Sum(data)}
	return s.URLFor(key), nil
}

func (s *fakeStore) Get(ctx context.Context, key string) (store.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return store.Object{}, &store.StoreError{Op: "get", Key: key, Err: store.ErrNotFound}
	}
	return store.Object{Data: obj.data, ContentType: obj.contentType}, nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return "", nil
	}
	return s.URLFor(key) + "?signed", nil
}

func (s *fakeStore) URLFor(key string) string {
	return "https://store.example/assets/" + key
}

type fakeFetcher struct {
	assets []githubsrc.Asset
	err    error
}

func (f *fakeFetcher) FetchAssets(ctx context.Context) ([]githubsrc.Asset, error) {
	return f.assets, f.err
}

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func testAsset(t *testing.T, title, imageFile string, img []byte) githubsrc.Asset {
	t.Helper()
	return githubsrc.Asset{
		Project: githubsrc.RawProject{
			Title:        title,
			Description:  title + " description",
			Technologies: []string{"Go"},
			Image:        imageFile,
			Source:       "https://github.com/tgasco/" + title,
		},
		ImageFile: imageFile,
		ImageData: img,
	}
}

func TestRunSyncsNewAsset(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	img := testJPEG(t, 64, 48)
	fetcher := &fakeFetcher{assets: []githubsrc.Asset{testAsset(t, "blog", "blog.jpg", img)}}

	projects, err := pipeline.New(fetcher, st).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)

	// 1 original + 9 variants + 1 aggregate document.
	require.Equal(t, 11, st.puts)

	original, ok := st.objects["img/original/blog-original.jpg"]
	require.True(t, ok)
	require.Equal(t, img, original.data)
	require.Equal(t, "image/jpeg", original.contentType)

	for _, key := range []string{
		"img/jpg/small/blog-small.jpg",
		"img/jpg/medium/blog-medium.jpg",
		"img/jpg/large/blog-large.jpg",
		"img/webp/small/blog-small.webp",
		"img/webp/medium/blog-medium.webp",
		"img/webp/large/blog-large.webp",
		"img/avif/small/blog-small.avif",
		"img/avif/medium/blog-medium.avif",
		"img/avif/large/blog-large.avif",
	} {
		_, ok := st.objects[key]
		require.True(t, ok, "expected variant at %s", key)
	}

	project := projects[0]
	require.Equal(t, "blog", project.Title)
	require.Equal(t,
		"https://store.example/assets/img/webp/medium/blog-medium.webp",
		project.Image["webp"]["medium"])
	require.Len(t, project.Image, 3)
	for _, sizes := range project.Image {
		require.Len(t, sizes, 3)
	}

	// The aggregate document is published and decodes back to the
	// returned projects.
	agg, ok := st.objects[store.AggregateKey]
	require.True(t, ok)
	require.Equal(t, "application/json", agg.contentType)

	var decoded []pipeline.Project
	require.NoError(t, json.Unmarshal(agg.data, &decoded))
	require.Equal(t, projects, decoded)
}

func TestRunSkipsUnchangedAsset(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	img := testJPEG(t, 64, 48)
	fetcher := &fakeFetcher{assets: []githubsrc.Asset{testAsset(t, "blog", "blog.jpg", img)}}

	p := pipeline.New(fetcher, st)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	firstRunPuts := st.puts

	projects, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)

	// Second run re-publishes only the aggregate document.
	require.Equal(t, firstRunPuts+1, st.puts)

	// Variant URLs are still fully populated for the skipped asset.
	require.Equal(t,
		"https://store.example/assets/img/avif/small/blog-small.avif",
		projects[0].Image["avif"]["small"])
}

func TestRunResyncsChangedAsset(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	fetcher := &fakeFetcher{assets: []githubsrc.Asset{testAsset(t, "blog", "blog.jpg", testJPEG(t, 64, 48))}}

	p := pipeline.New(fetcher, st)
	_, err := p.Run(context.Background())
	require.NoError(t, err)

	firstRunPuts := st.puts

	// New image bytes under the same filename.
	fetcher.assets[0].ImageData = testJPEG(t, 80, 60)

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	// Original, 9 variants, and the aggregate document all rewritten.
	require.Equal(t, firstRunPuts+11, st.puts)
	require.Equal(t, fetcher.assets[0].ImageData, st.objects["img/original/blog-original.jpg"].data)
}

func TestRunSkipsUndecodableAsset(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	fetcher := &fakeFetcher{assets: []githubsrc.Asset{
		testAsset(t, "broken", "broken.jpg", []byte("not an image")),
		testAsset(t, "blog", "blog.jpg", testJPEG(t, 64, 48)),
	}}

	projects, err := pipeline.New(fetcher, st).Run(context.Background())
	require.NoError(t, err)

	// The undecodable asset is dropped; the healthy one survives.
	require.Len(t, projects, 1)
	require.Equal(t, "blog", projects[0].Title)

	_, ok := st.objects["img/original/broken-original.jpg"]
	require.False(t, ok)
}

func TestRunConvergesAfterTransientVariantFailure(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.failKey = "img/webp/medium/blog-medium.webp"
	st.failures = 1

	img := testJPEG(t, 64, 48)
	fetcher := &fakeFetcher{assets: []githubsrc.Asset{testAsset(t, "blog", "blog.jpg", img)}}
	p := pipeline.New(fetcher, st)

	_, err := p.Run(context.Background())
	var storeErr *store.StoreError
	require.ErrorAs(t, err, &storeErr)

	// The interrupted batch must not have marked the asset current:
	// the original only becomes visible once every variant exists.
	_, ok := st.objects["img/original/blog-original.jpg"]
	require.False(t, ok)

	// The next run redoes the full set.
	projects, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)

	for _, key := range []string{
		"img/original/blog-original.jpg",
		"img/jpg/small/blog-small.jpg",
		"img/jpg/medium/blog-medium.jpg",
		"img/jpg/large/blog-large.jpg",
		"img/webp/small/blog-small.webp",
		"img/webp/medium/blog-medium.webp",
		"img/webp/large/blog-large.webp",
		"img/avif/small/blog-small.avif",
		"img/avif/medium/blog-medium.avif",
		"img/avif/large/blog-large.avif",
		store.AggregateKey,
	} {
		_, ok := st.objects[key]
		require.True(t, ok, "expected object at %s after recovery", key)
	}
}

func TestRunFailsOnStoreError(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.putErr = &store.StoreError{Op: "put", Key: "x", Err: errors.New("connection refused")}
	fetcher := &fakeFetcher{assets: []githubsrc.Asset{testAsset(t, "blog", "blog.jpg", testJPEG(t, 64, 48))}}

	_, err := pipeline.New(fetcher, st).Run(context.Background())

	var storeErr *store.StoreError
	require.ErrorAs(t, err, &storeErr)
}

func TestRunFailsOnFetchError(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: &githubsrc.FetchError{User: "tgasco", Err: errors.New("rate limited")}}

	_, err := pipeline.New(fetcher, newFakeStore()).Run(context.Background())

	var fetchErr *githubsrc.FetchError
	require.ErrorAs(t, err, &fetchErr)
}
