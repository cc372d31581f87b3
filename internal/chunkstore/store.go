// Package chunkstore implements a node's on-disk chunk layout: a
// "content/" directory for chunks the node primarily owns and a
// "backup/" directory mirroring its predecessor's chunks, both rooted
// at a per-node data directory.
package chunkstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hazardous-sun/ouroboros-fs/internal/procid"
)

const (
	contentDir = "content"
	backupDir  = "backup"
)

// Store is a node's chunk persistence layer.
type Store struct {
	root string
}

// Open ensures the content/ and backup/ directories exist under root and
// returns a Store rooted there.
func Open(root string) (*Store, error) {
	for _, dir := range []string{contentDir, backupDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("chunkstore: create %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) contentPath(chunkName string) string {
	return filepath.Join(s.root, contentDir, chunkName)
}

func (s *Store) backupPath(chunkName string) string {
	return filepath.Join(s.root, backupDir, chunkName)
}

// SaveContent reads exactly n bytes from r and writes them to the named
// primary chunk. It writes to a temp file first and renames into place
// so a reader never observes a partially-written chunk.
func (s *Store) SaveContent(chunkName string, r io.Reader, n int64) error {
	return save(s.contentPath(chunkName), r, n)
}

// SaveBackup is identical to SaveContent but writes to the backup/
// mirror directory.
func (s *Store) SaveBackup(chunkName string, r io.Reader, n int64) error {
	return save(s.backupPath(chunkName), r, n)
}

func save(path string, r io.Reader, n int64) error {
	tmp := path + "." + procid.StagingSuffix()
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("chunkstore: create: %w", err)
	}
	if _, err := io.CopyN(f, r, n); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("chunkstore: write: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chunkstore: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("chunkstore: rename: %w", err)
	}
	return nil
}

// ReadContent opens the named primary chunk for reading, returning its
// size. The caller must close the returned reader.
func (s *Store) ReadContent(chunkName string) (io.ReadCloser, int64, error) {
	return open(s.contentPath(chunkName))
}

// ReadBackup opens the named backup-mirror chunk for reading.
func (s *Store) ReadBackup(chunkName string) (io.ReadCloser, int64, error) {
	return open(s.backupPath(chunkName))
}

func open(path string) (io.ReadCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// ChunkExists reports whether the named primary chunk exists.
func (s *Store) ChunkExists(chunkName string) bool {
	_, err := os.Stat(s.contentPath(chunkName))
	return err == nil
}
