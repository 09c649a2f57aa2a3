// Package sink persists annotated frames to disk.
package sink

import (
	"fmt"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/visiona/lookout/internal/types"
)

// FileSink writes annotated frames as image files.
//
// Thread-safe: Save may be called from multiple goroutines.
type FileSink struct {
	outputDir   string
	format      string
	jpegQuality int

	framesSaved  atomic.Uint64
	framesFailed atomic.Uint64
}

// NewFileSink creates a sink writing to outputDir. Format is "png" or
// "jpeg"; quality applies to JPEG only.
func NewFileSink(outputDir, format string, jpegQuality int) (*FileSink, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	if format != "png" && format != "jpeg" {
		return nil, fmt.Errorf("unsupported format: %s (must be png or jpeg)", format)
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 90
	}

	return &FileSink{
		outputDir:   outputDir,
		format:      format,
		jpegQuality: jpegQuality,
	}, nil
}

// Save writes one annotated frame.
//
// Filename format: frame_{seq:06d}_{timestamp}.{ext}
// Example: frame_000042_20251105_234517.123.jpeg
func (fs *FileSink) Save(af *types.AnnotatedFrame) (string, error) {
	filename := fmt.Sprintf("frame_%06d_%s.%s",
		af.Frame.Seq,
		af.Frame.Timestamp.Format("20060102_150405.000"),
		fs.format)
	path := filepath.Join(fs.outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		fs.framesFailed.Add(1)
		return "", fmt.Errorf("creating file: %w", err)
	}
	defer file.Close()

	switch fs.format {
	case "png":
		err = png.Encode(file, af.Image)
	case "jpeg":
		err = jpeg.Encode(file, af.Image, &jpeg.Options{Quality: fs.jpegQuality})
	}
	if err != nil {
		fs.framesFailed.Add(1)
		return "", fmt.Errorf("%s encode failed: %w", fs.format, err)
	}

	fs.framesSaved.Add(1)
	return path, nil
}

// Stats returns saved and failed frame counts.
func (fs *FileSink) Stats() (saved, failed uint64) {
	return fs.framesSaved.Load(), fs.framesFailed.Load()
}
