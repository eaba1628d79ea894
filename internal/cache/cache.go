package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Entry is the metadata stored next to each cached body.
type Entry struct {
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	SavedAt     time.Time `json:"saved_at"`
}

// Documents caches archive responses on disk as <key>.meta.json and
// <key>.body where key is sha256(url). Filing documents are immutable once
// published, so entries never need revalidation. No eviction policy is
// included; see PurgeByAge and ClearDir.
type Documents struct {
	Dir string
	// StrictPerms writes the directory as 0700 and files as 0600.
	StrictPerms bool
}

func (c *Documents) ensureDir() error {
	if c == nil || c.Dir == "" {
		return errors.New("cache dir not configured")
	}
	mode := os.FileMode(0o755)
	if c.StrictPerms {
		mode = 0o700
	}
	if err := os.MkdirAll(c.Dir, mode); err != nil {
		return err
	}
	if c.StrictPerms {
		return os.Chmod(c.Dir, 0o700)
	}
	return nil
}

func (c *Documents) fileMode() os.FileMode {
	if c.StrictPerms {
		return 0o600
	}
	return 0o644
}

func key(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:])
}

func (c *Documents) metaPath(k string) string { return filepath.Join(c.Dir, k+".meta.json") }
func (c *Documents) bodyPath(k string) string { return filepath.Join(c.Dir, k+".body") }

// Load returns the cached body and content type for url. ok is false on any
// miss, including unreadable or half-written entries.
func (c *Documents) Load(_ context.Context, url string) (body []byte, contentType string, ok bool) {
	if c == nil || c.Dir == "" {
		return nil, "", false
	}
	k := key(url)
	b, err := os.ReadFile(c.metaPath(k))
	if err != nil {
		return nil, "", false
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil || e.URL != url {
		return nil, "", false
	}
	body, err = os.ReadFile(c.bodyPath(k))
	if err != nil {
		return nil, "", false
	}
	return body, e.ContentType, true
}

// Save stores body under url. The metadata file is written last via rename,
// so a reader never sees metadata without its body.
func (c *Documents) Save(_ context.Context, url, contentType string, body []byte) error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	k := key(url)
	if err := os.WriteFile(c.bodyPath(k), body, c.fileMode()); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	meta, err := json.Marshal(Entry{URL: url, ContentType: contentType, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	tmp := c.metaPath(k) + ".tmp"
	if err := os.WriteFile(tmp, meta, c.fileMode()); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return os.Rename(tmp, c.metaPath(k))
}

// ClearDir removes the directory and all contents, then recreates it empty.
func ClearDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("empty dir")
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// PurgeByAge removes entries saved more than maxAge ago and reports how many
// were removed.
func PurgeByAge(dir string, maxAge time.Duration, now time.Time) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	removed := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".meta.json") {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil // skip unreadable
		}
		var e Entry
		if err := json.Unmarshal(b, &e); err != nil {
			return nil
		}
		if now.Sub(e.SavedAt) <= maxAge {
			return nil
		}
		removed++
		_ = os.Remove(path)
		_ = os.Remove(strings.TrimSuffix(path, ".meta.json") + ".body")
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	return removed, err
}
