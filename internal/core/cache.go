package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

// ArtifactCache stores reusable progenitor models keyed by ArtifactKey.
//
// Put overwrites any prior entry for the key; the last write is authoritative
// for the run. Get reports absence with ok=false and a nil error.
type ArtifactCache interface {
	Get(key ArtifactKey) (path string, ok bool, err error)
	Put(key ArtifactKey, src string) (path string, err error)
}

// CacheMetadata is persisted next to every cached artifact.
type CacheMetadata struct {
	Key    ArtifactKey `json:"key"`
	Source string      `json:"source"`
	Digest string      `json:"sha256"`
	Size   int64       `json:"size"`
}

// FileCache implements ArtifactCache on the filesystem.
//
// Structure:
//
//	{Dir}/
//	  {key}/
//	    metadata.json
//	    {key}.mod
//
// Entries are committed by renaming a fully written temp directory into
// place, so a crash never leaves a partial entry at the canonical path.
type FileCache struct {
	// Dir is the cache root. It must live outside every job directory.
	Dir string

	sealed atomic.Bool
}

// NewFileCache creates a filesystem cache rooted at dir.
func NewFileCache(dir string) *FileCache {
	return &FileCache{Dir: dir}
}

// Seal rejects every later Put with ErrCacheSealed. Get keeps working.
func (c *FileCache) Seal() { c.sealed.Store(true) }

// Sealed reports whether Seal has been called.
func (c *FileCache) Sealed() bool { return c.sealed.Load() }

// Get returns the path of the cached artifact for key.
//
// An entry whose artifact no longer matches its recorded digest is treated as
// a miss.
func (c *FileCache) Get(key ArtifactKey) (string, bool, error) {
	meta, err := c.Metadata(key)
	if err != nil {
		return "", false, err
	}
	if meta == nil {
		return "", false, nil
	}

	path := c.artifactPath(key)
	digest, _, err := fileDigest(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("hashing cached artifact %s: %w", key, err)
	}
	if digest != meta.Digest {
		return "", false, nil
	}
	return path, true, nil
}

// Metadata returns the stored metadata for key, or nil when absent.
func (c *FileCache) Metadata(key ArtifactKey) (*CacheMetadata, error) {
	data, err := os.ReadFile(filepath.Join(c.entryPath(key), "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache metadata: %w", err)
	}
	var meta CacheMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing cache metadata for %s: %w", key, err)
	}
	return &meta, nil
}

// Put copies src into the cache under key and returns the stable path.
func (c *FileCache) Put(key ArtifactKey, src string) (string, error) {
	if c.Sealed() {
		return "", ErrCacheSealed
	}
	if key == "" {
		return "", fmt.Errorf("cache key is empty")
	}

	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}

	tmpDir, err := os.MkdirTemp(c.Dir, "tmp-entry-"+key.String()+"-")
	if err != nil {
		return "", fmt.Errorf("creating temp cache entry dir: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(tmpDir)
		}
	}()

	// Artifact first, so metadata only exists once the blob is complete.
	if err := copyFile(src, filepath.Join(tmpDir, key.FileName())); err != nil {
		return "", fmt.Errorf("copying artifact into cache: %w", err)
	}
	digest, size, err := fileDigest(filepath.Join(tmpDir, key.FileName()))
	if err != nil {
		return "", fmt.Errorf("hashing artifact: %w", err)
	}

	data, err := json.MarshalIndent(CacheMetadata{
		Key:    key,
		Source: src,
		Digest: digest,
		Size:   size,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling cache metadata: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(tmpDir, "metadata.json"), data, 0644); err != nil {
		return "", fmt.Errorf("writing cache metadata: %w", err)
	}

	// A crash between remove and rename yields a miss, not corruption.
	entryDir := c.entryPath(key)
	_ = os.RemoveAll(entryDir)
	if err := os.Rename(tmpDir, entryDir); err != nil {
		return "", fmt.Errorf("committing cache entry: %w", err)
	}
	committed = true
	return c.artifactPath(key), nil
}

// Purge removes every entry. Used by clean mode before the sweep starts.
func (c *FileCache) Purge() error {
	if c.Sealed() {
		return ErrCacheSealed
	}
	if err := os.RemoveAll(c.Dir); err != nil {
		return fmt.Errorf("purging cache: %w", err)
	}
	return nil
}

func (c *FileCache) entryPath(key ArtifactKey) string {
	return filepath.Join(c.Dir, key.String())
}

func (c *FileCache) artifactPath(key ArtifactKey) string {
	return filepath.Join(c.entryPath(key), key.FileName())
}
