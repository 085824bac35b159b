package screen

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/zombor/screen-watchdog/internal/failure"
	"github.com/zombor/screen-watchdog/internal/imaging"
)

// FileSource replays an image file as if it were the screen. The file is
// re-read on every capture so it can be swapped while the watchdog runs.
type FileSource struct {
	path  string
	clock func() time.Time
}

// NewFileSource creates a FileSource for path. clock may be nil.
func NewFileSource(path string, clock func() time.Time) *FileSource {
	if clock == nil {
		clock = time.Now
	}
	return &FileSource{path: path, clock: clock}
}

// Capture implements Capturer. Regions are not applied to replayed images.
func (f *FileSource) Capture(_ context.Context, region *Region) (Frame, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Frame{}, failure.Permanent(fmt.Errorf("reading image %s: %w", f.path, err), "check the --image path")
	}

	pngData, err := imaging.ToPNG(data, imaging.ContentTypeOf(f.path, data))
	if err != nil {
		return Frame{}, failure.Permanent(fmt.Errorf("converting image %s: %w", f.path, err), "")
	}

	width, height, err := imaging.Dimensions(pngData)
	if err != nil {
		return Frame{}, fmt.Errorf("reading image %s: %w", f.path, err)
	}

	if region != nil {
		slog.Debug("Ignoring capture region for replayed image", "path", f.path, "region", region.String())
	}

	return Frame{
		PNG:        pngData,
		CapturedAt: f.clock(),
		Width:      width,
		Height:     height,
		Backend:    "file",
	}, nil
}
