// Package storage persists caption files and fetches source audio.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("object not found")

type Storage interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// CaptionKey is where the captions for an episode are stored.
func CaptionKey(showID, episodeID string) string {
	return path.Join("captions", segment(showID), segment(episodeID)+".vtt")
}

func segment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
	s = strings.Trim(s, ".")
	if s == "" {
		return "_"
	}
	return s
}

// LocalStorage keeps objects under a directory on disk.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{root: root}
}

func (s *LocalStorage) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), nil
}

func (s *LocalStorage) Upload(_ context.Context, key string, data io.Reader, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

func (s *LocalStorage) Download(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("download %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	return f, nil
}

func (s *LocalStorage) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *LocalStorage) URL(key string) string {
	p, err := s.path(key)
	if err != nil {
		return ""
	}
	return "file://" + filepath.ToSlash(p)
}

// Fetch copies an object into dir and returns the local path. Keys that already name a
// local file are returned unchanged.
func Fetch(ctx context.Context, s Storage, key, dir string) (string, bool, error) {
	if _, err := os.Stat(key); err == nil {
		return key, false, nil
	}
	rc, err := s.Download(ctx, key)
	if err != nil {
		return "", false, err
	}
	defer rc.Close()

	f, err := os.CreateTemp(dir, "audio-*"+path.Ext(key))
	if err != nil {
		return "", false, fmt.Errorf("create audio file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", false, fmt.Errorf("copy audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", false, fmt.Errorf("close audio file: %w", err)
	}
	return f.Name(), true, nil
}
