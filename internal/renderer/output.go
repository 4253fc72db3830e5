package renderer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoOutput is returned when the engine produced no usable output file.
var ErrNoOutput = errors.New("engine produced no output file")

// FindOutput locates the engine's actual output for the requested path and
// returns it with its size. For paged image exports the engine does not
// write the requested name: "out.png" becomes "out-1.png", "out-2.png" and
// so on, one file per page; the first page is returned. Empty files count
// as missing, since the engine can exit 0 after writing a zero-byte file.
func FindOutput(outputPath string) (string, int64, error) {
	if info, err := os.Stat(outputPath); err == nil && info.Size() > 0 {
		return outputPath, info.Size(), nil
	}

	ext := filepath.Ext(outputPath)
	base := strings.TrimSuffix(outputPath, ext)
	matches, err := filepath.Glob(base + "-*" + ext)
	if err != nil {
		return "", 0, fmt.Errorf("glob output candidates: %w", err)
	}

	firstPage := base + "-1" + ext
	for _, m := range matches {
		if m != firstPage {
			continue
		}
		info, err := os.Stat(m)
		if err != nil || info.Size() == 0 {
			break
		}
		return m, info.Size(), nil
	}

	return "", 0, ErrNoOutput
}
