package processing

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/menta2k/image-detailer/internal/utils"
)

// FileSaver writes intermediate images into a directory. Every saver gets a
// run identifier so snapshots of different runs never collide.
type FileSaver struct {
	processor *Processor
	runID     string
	format    string
	quality   int
	lossless  bool
}

// NewFileSaver creates a saver writing format ("png", "jpg" or "webp") files
func NewFileSaver(format string, quality int, lossless bool) *FileSaver {
	switch format = strings.ToLower(format); format {
	case "":
		format = "png"
	case "jpeg":
		format = "jpg"
	}
	return &FileSaver{
		processor: NewProcessor(),
		runID:     strings.Split(uuid.NewString(), "-")[0],
		format:    format,
		quality:   quality,
		lossless:  lossless,
	}
}

// RunID returns the identifier prefixed to every file name
func (s *FileSaver) RunID() string {
	return s.runID
}

// Save writes img to dest. The name is built from the run id, seed, the start
// of the prompt and suffix.
func (s *FileSaver) Save(img image.Image, dest string, seed int64, prompt, suffix string) error {
	if dest == "" {
		dest = "."
	}
	if err := utils.EnsureDir(dest); err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	path := filepath.Join(dest, utils.SnapshotFilename(s.runID, seed, prompt, suffix, s.format))
	if err := s.processor.SaveImage(img, path, s.format, s.quality, s.lossless); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
