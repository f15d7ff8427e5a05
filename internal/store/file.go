package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wegman-software/tilequeue-go/internal/coord"
	"github.com/wegman-software/tilequeue-go/internal/format"
)

// FileStore keeps tiles under a root directory
type FileStore struct {
	Root string
}

func (s FileStore) path(layer string, f format.Format, c coord.Coord) string {
	return filepath.Join(s.Root, filepath.FromSlash(TilePath(layer, f, c)))
}

// WriteTile writes beside the final path and renames into place, so readers
// never see a partial tile.
func (s FileStore) WriteTile(_ context.Context, layer string, f format.Format, c coord.Coord, data []byte) error {
	finalPath := s.path(layer, f, c)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".tile-*")
	if err != nil {
		return fmt.Errorf("failed to create temp tile: %w", err)
	}
	tmpFile := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("failed to write tile %s: %w", c, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to write tile %s: %w", c, err)
	}
	if err := os.Rename(tmpFile, finalPath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename tile %s: %w", c, err)
	}
	return nil
}

func (s FileStore) ReadTile(_ context.Context, layer string, f format.Format, c coord.Coord) ([]byte, error) {
	data, err := os.ReadFile(s.path(layer, f, c))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tile %s: %w", c, err)
	}
	return data, nil
}
