package sensor

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	_ "golang.org/x/image/webp"

	"github.com/banshee-data/boardwatch/internal/board"
	"github.com/banshee-data/boardwatch/internal/httputil"
)

// Camera fetches a still frame per capture from an HTTP snapshot endpoint
// (JPEG, PNG or WebP) and thresholds it.
type Camera struct {
	url      string
	client   httputil.HTTPClient
	detector Detector

	mu   sync.Mutex
	last Reading
}

// NewCamera creates a snapshot camera sensor.
func NewCamera(url string, client httputil.HTTPClient, d Detector) *Camera {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &Camera{url: url, client: client, detector: d}
}

// Capture fetches and decodes one frame.
func (c *Camera) Capture(ctx context.Context) (board.Grid, error) {
	data, _, err := httputil.GetBytes(ctx, c.client, c.url)
	if err != nil {
		return board.Grid{}, failure("snapshot %s: %v", c.url, err)
	}
	return c.detect(data)
}

func (c *Camera) detect(data []byte) (board.Grid, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return board.Grid{}, failure("decode frame: %v", err)
	}
	if img.Bounds().Dx() < board.Size || img.Bounds().Dy() < board.Size {
		return board.Grid{}, partial("%s frame too small: %v", format, img.Bounds())
	}
	if crop := c.detector.Crop; !crop.Empty() && !crop.In(img.Bounds()) {
		return board.Grid{}, partial("board region %v not inside %s frame %v", crop, format, img.Bounds())
	}
	g, r := c.detector.Detect(img)
	c.mu.Lock()
	c.last = r
	c.mu.Unlock()
	return g, nil
}

// LastReading returns the brightness behind the most recent grid.
func (c *Camera) LastReading() Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// ImageFiles replays still frames from disk through a Detector, cycling.
type ImageFiles struct {
	mu     sync.Mutex
	paths  []string
	next   int
	camera *Camera
}

// NewImageFiles creates a sensor over the given image paths.
func NewImageFiles(paths []string, d Detector) *ImageFiles {
	return &ImageFiles{paths: paths, camera: &Camera{detector: d}}
}

// Capture decodes the next file.
func (f *ImageFiles) Capture(ctx context.Context) (board.Grid, error) {
	if err := ctx.Err(); err != nil {
		return board.Grid{}, failure("%v", err)
	}
	f.mu.Lock()
	if len(f.paths) == 0 {
		f.mu.Unlock()
		return board.Grid{}, failure("no image files")
	}
	path := f.paths[f.next]
	f.next = (f.next + 1) % len(f.paths)
	f.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return board.Grid{}, failure("read %s: %v", path, err)
	}
	return f.camera.detect(data)
}

// LastReading returns the brightness behind the most recent grid.
func (f *ImageFiles) LastReading() Reading { return f.camera.LastReading() }
