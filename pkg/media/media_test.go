package media_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisnuc/appifi-sub000/pkg/identity"
	"github.com/wisnuc/appifi-sub000/pkg/media"
	mediatesting "github.com/wisnuc/appifi-sub000/pkg/media/testing"
)

func TestMemoryStore(t *testing.T) {
	suite := &mediatesting.StoreTestSuite{
		NewStore: func(*testing.T) media.Store { return media.NewMemoryStore() },
	}
	suite.Run(t)
}

func writeImage(t *testing.T, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	switch filepath.Ext(name) {
	case ".png":
		require.NoError(t, png.Encode(&buf, img))
	case ".jpg":
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtractDimensions(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		magic string
	}{
		{"png", "a.png", "PNG"},
		{"jpeg without exif", "a.jpg", "JPEG"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeImage(t, tt.file, 40, 30)
			md, err := media.Extract(path, identity.Magic{Tag: tt.magic})
			require.NoError(t, err)
			assert.Equal(t, 40, md.Width)
			assert.Equal(t, 30, md.Height)
			assert.Equal(t, 1, md.Orientation)
			assert.Equal(t, tt.magic, md.Magic)
			assert.Positive(t, md.Size)
			assert.Nil(t, md.DateTaken)
		})
	}
}

func TestExtractVideoKeepsSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, 512), 0o644))

	md, err := media.Extract(path, identity.Magic{Tag: "MP4"})
	require.NoError(t, err)
	assert.EqualValues(t, 512, md.Size)
	assert.Zero(t, md.Width)
	assert.Zero(t, md.Orientation)
}

func TestExtractMissingFile(t *testing.T) {
	_, err := media.Extract(filepath.Join(t.TempDir(), "nope.jpg"), identity.Magic{Tag: "JPEG"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type mediaRecorder struct {
	extracted, failed, dropped atomic.Int64
}

func (r *mediaRecorder) RecordExtraction(_ string, _ time.Duration, err error) {
	if err != nil {
		r.failed.Add(1)
		return
	}
	r.extracted.Add(1)
}
func (r *mediaRecorder) RecordDropped()    { r.dropped.Add(1) }
func (r *mediaRecorder) SetQueueDepth(int) {}

func runPipeline(t *testing.T, p *media.Pipeline) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, p.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestPipelineExtractsIntoStore(t *testing.T) {
	store := media.NewMemoryStore()
	rec := &mediaRecorder{}
	p := media.NewPipeline(store, media.PipelineConfig{Workers: 2, Metrics: rec})
	runPipeline(t, p)

	path := writeImage(t, "x.png", 8, 4)
	p.Submit("h1", path, identity.Magic{Tag: "PNG"})

	require.Eventually(t, func() bool {
		_, err := p.Get(context.Background(), "h1")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	md, err := p.Get(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, "h1", md.Hash)
	assert.Equal(t, 8, md.Width)
	assert.False(t, md.ExtractedAt.IsZero())
	assert.EqualValues(t, 1, rec.extracted.Load())
}

func TestPipelineDeduplicatesByHash(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	extract := func(path string, magic identity.Magic) (*media.Metadata, error) {
		calls.Add(1)
		<-release
		return &media.Metadata{Magic: magic.String()}, nil
	}

	store := media.NewMemoryStore()
	p := media.NewPipeline(store, media.PipelineConfig{Extractor: extract})
	runPipeline(t, p)

	// queued twice while the first is in flight, then again once stored
	p.Submit("same", "/a", identity.Magic{Tag: "JPEG"})
	p.Submit("same", "/b", identity.Magic{Tag: "JPEG"})
	close(release)

	require.Eventually(t, func() bool {
		n, _ := store.Count(context.Background())
		return n == 1
	}, 5*time.Second, 10*time.Millisecond)

	p.Submit("same", "/c", identity.Magic{Tag: "JPEG"})
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPipelineDropsWhenFull(t *testing.T) {
	rec := &mediaRecorder{}
	var once sync.Once
	started := make(chan struct{})
	block := make(chan struct{})
	extract := func(string, identity.Magic) (*media.Metadata, error) {
		once.Do(func() { close(started) })
		<-block
		return nil, errors.New("boom")
	}
	p := media.NewPipeline(media.NewMemoryStore(), media.PipelineConfig{QueueSize: 1, Extractor: extract, Metrics: rec})
	runPipeline(t, p)
	t.Cleanup(func() { close(block) })

	p.Submit("1", "/1", identity.Magic{Tag: "PNG"})
	<-started
	p.Submit("2", "/2", identity.Magic{Tag: "PNG"}) // fills the queue
	p.Submit("3", "/3", identity.Magic{Tag: "PNG"}) // dropped

	assert.EqualValues(t, 1, rec.dropped.Load())
}
