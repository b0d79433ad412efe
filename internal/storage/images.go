package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"script-sandbox/internal/capture"
)

// FSImageStore persists extracted chart images under a base directory.
// The sandbox core hands ownership of each image here and keeps no
// durable reference of its own.
type FSImageStore struct {
	dir string
}

func NewFSImageStore(dir string) (*FSImageStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating image directory: %w", err)
	}
	return &FSImageStore{dir: dir}, nil
}

// Store writes the image and returns its identifier (the file name).
func (s *FSImageStore) Store(_ context.Context, img capture.Image) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(img.Name))
	if err := os.WriteFile(path, img.Data, 0640); err != nil {
		return "", fmt.Errorf("writing image %s: %w", img.Name, err)
	}

	log.Debug().
		Str("name", img.Name).
		Int("bytes", len(img.Data)).
		Str("format", img.Format).
		Msg("image stored")

	return img.Name, nil
}
