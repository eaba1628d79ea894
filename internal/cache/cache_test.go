package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDocuments_SaveLoad(t *testing.T) {
	t.Parallel()
	c := &Documents{Dir: filepath.Join(t.TempDir(), "docs")}
	ctx := context.Background()
	u := "https://www.sec.gov/Archives/edgar/data/1234/000123456724000001/infotable.xml"
	if _, _, ok := c.Load(ctx, u); ok {
		t.Fatalf("expected miss on empty cache")
	}
	if err := c.Save(ctx, u, "text/xml", []byte("<informationTable/>")); err != nil {
		t.Fatalf("save: %v", err)
	}
	body, ct, ok := c.Load(ctx, u)
	if !ok || string(body) != "<informationTable/>" || ct != "text/xml" {
		t.Fatalf("load: ok=%v ct=%q body=%q", ok, ct, body)
	}
	if _, _, ok := c.Load(ctx, u+"?x"); ok {
		t.Fatalf("different URL must miss")
	}
}

func TestDocuments_MissingBodyIsMiss(t *testing.T) {
	t.Parallel()
	c := &Documents{Dir: t.TempDir()}
	u := "https://example.com/a.xml"
	if err := c.Save(context.Background(), u, "text/xml", []byte("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := os.Remove(c.bodyPath(key(u))); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, _, ok := c.Load(context.Background(), u); ok {
		t.Fatalf("expected miss without body")
	}
}

func TestDocuments_NilIsAlwaysMiss(t *testing.T) {
	var c *Documents
	if _, _, ok := c.Load(context.Background(), "https://example.com"); ok {
		t.Fatalf("nil cache must miss")
	}
}

func TestDocuments_StrictPerms(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "http")
	c := &Documents{Dir: dir, StrictPerms: true}
	u := "https://example.com/x"
	if err := c.Save(context.Background(), u, "text/html", []byte("hello")); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat dir: %v", err)
	}
	if got := info.Mode() & 0o777; got != 0o700 {
		t.Fatalf("dir mode = %o, want 0700", got)
	}
	k := key(u)
	for _, f := range []string{c.bodyPath(k), c.metaPath(k)} {
		finfo, err := os.Stat(f)
		if err != nil {
			t.Fatalf("stat %s: %v", f, err)
		}
		if got := finfo.Mode() & 0o777; got != 0o600 {
			t.Fatalf("%s mode = %o, want 0600", f, got)
		}
	}
}

func TestPurgeByAge(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	c := &Documents{Dir: dir}
	ctx := context.Background()
	if err := c.Save(ctx, "https://example.com/old", "text/xml", []byte("old")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := c.Save(ctx, "https://example.com/new", "text/xml", []byte("new")); err != nil {
		t.Fatalf("save: %v", err)
	}
	removed, err := PurgeByAge(dir, time.Hour, time.Now().Add(2*time.Hour))
	if err != nil || removed != 2 {
		t.Fatalf("removed=%d err=%v", removed, err)
	}
	if _, _, ok := c.Load(ctx, "https://example.com/new"); ok {
		t.Fatalf("expected purged entry to miss")
	}
	if n, err := PurgeByAge(filepath.Join(dir, "missing"), time.Hour, time.Now()); err != nil || n != 0 {
		t.Fatalf("missing dir: n=%d err=%v", n, err)
	}
	if n, _ := PurgeByAge(dir, 0, time.Now()); n != 0 {
		t.Fatalf("zero age must not purge")
	}
}

func TestClearDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x.body"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ClearDir(dir); err != nil {
		t.Fatalf("clear: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 0 {
		t.Fatalf("entries=%v err=%v", entries, err)
	}
	if err := ClearDir("  "); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}
