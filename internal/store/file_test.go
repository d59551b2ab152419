package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/ytget/ytcipher/youtube/cipher"
)

func mustProgram(t *testing.T, enc string) cipher.Program {
	t.Helper()
	p, err := cipher.ParseProgram(enc)
	if err != nil {
		t.Fatalf("ParseProgram(%q): %v", enc, err)
	}
	return p
}

func TestFileStore_PutLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "ciphers.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	if _, ok := s.Lookup("19834"); ok {
		t.Fatal("expected miss before first put")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should not exist before first put: %v", err)
	}

	if err := s.Put("19834", mustProgram(t, "s3 r w49")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	got, ok := s.Lookup("19834")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Encode() != "s3 r w49" {
		t.Errorf("Lookup = %q", got.Encode())
	}

	// a fresh store on the same file sees the entry
	s2, _ := NewFileStore(path)
	if got, ok := s2.Lookup("19834"); !ok || got.Encode() != "s3 r w49" {
		t.Errorf("fresh store Lookup = %q, %v", got.Encode(), ok)
	}
}

func TestFileStore_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ciphers.json")
	s, _ := NewFileStore(path)
	if err := s.Put("19834", mustProgram(t, "s3 r w49")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	want := "{\n  \"19834\": \"s3 r w49\"\n}"
	if strings.TrimSpace(string(b)) != want {
		t.Errorf("file content = %q, want %q", b, want)
	}
}

func TestFileStore_Merge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ciphers.json")
	s, _ := NewFileStore(path)
	if err := s.Put("1", mustProgram(t, "r")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("2", mustProgram(t, "w3 s1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("1", mustProgram(t, "s2")); err != nil {
		t.Fatal(err)
	}

	if p, ok := s.Lookup("1"); !ok || p.Encode() != "s2" {
		t.Errorf("entry 1 = %q, %v", p.Encode(), ok)
	}
	if p, ok := s.Lookup("2"); !ok || p.Encode() != "w3 s1" {
		t.Errorf("entry 2 = %q, %v", p.Encode(), ok)
	}
	entries, err := s.Entries()
	if err != nil {
		t.Fatalf("Entries error: %v", err)
	}
	if len(entries) != 2 || entries[0].ReleaseID != "1" || entries[1].ReleaseID != "2" {
		t.Errorf("Entries = %+v", entries)
	}
}

func TestFileStore_ForeignWriterPreserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ciphers.json")
	if err := os.WriteFile(path, []byte(`{"old": "s1 r0 w5"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	s, _ := NewFileStore(path)
	if p, ok := s.Lookup("old"); !ok || p.Encode() != "s1 r w5" {
		t.Errorf("Lookup(old) = %q, %v", p.Encode(), ok)
	}
	if err := s.Put("new", mustProgram(t, "r")); err != nil {
		t.Fatal(err)
	}
	var raw map[string]string
	b, _ := os.ReadFile(path)
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("file is not JSON: %v", err)
	}
	if raw["old"] != "s1 r0 w5" || raw["new"] != "r" {
		t.Errorf("file = %v", raw)
	}
}

func TestFileStore_SoftMisses(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"invalid json", "{not json"},
		{"wrong shape", `["s3 r"]`},
		{"bad token", `{"19834": "s3 q7"}`},
		{"non string value", `{"19834": 12}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ciphers.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			s, _ := NewFileStore(path)
			if _, ok := s.Lookup("19834"); ok {
				t.Error("expected miss")
			}
		})
	}
}

func TestFileStore_PutReplacesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ciphers.json")
	if err := os.WriteFile(path, []byte("{garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, _ := NewFileStore(path)
	if err := s.Put("7", mustProgram(t, "w1")); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if p, ok := s.Lookup("7"); !ok || p.Encode() != "w1" {
		t.Errorf("Lookup = %q, %v", p.Encode(), ok)
	}
}

func TestFileStore_PutFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// parent "directory" is a regular file
	s, _ := NewFileStore(filepath.Join(blocker, "ciphers.json"))
	err := s.Put("1", mustProgram(t, "r"))
	if !cipher.IsStoreError(err) {
		t.Fatalf("expected STORE_WRITE_FAILED, got %v", err)
	}
	if err := s.Put("", mustProgram(t, "r")); !cipher.IsStoreError(err) {
		t.Errorf("expected STORE_WRITE_FAILED for empty id, got %v", err)
	}
}

func TestFileStore_ConcurrentPuts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ciphers.json")
	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// separate instances share the per-path lock
			s, err := NewFileStore(path)
			if err != nil {
				t.Error(err)
				return
			}
			if err := s.Put(fmt.Sprintf("rel-%02d", i), cipher.Program{{Kind: cipher.Swap, Arg: i}}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	s, _ := NewFileStore(path)
	entries, err := s.Entries()
	if err != nil {
		t.Fatalf("Entries error: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("got %d entries, want %d", len(entries), n)
	}
	for i := 0; i < n; i++ {
		p, ok := s.Lookup(fmt.Sprintf("rel-%02d", i))
		if !ok || p.Encode() != fmt.Sprintf("w%d", i) {
			t.Errorf("entry %d = %q, %v", i, p.Encode(), ok)
		}
	}
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestFileStore_EntriesMissingFile(t *testing.T) {
	s, _ := NewFileStore(filepath.Join(t.TempDir(), "none.json"))
	entries, err := s.Entries()
	if err != nil || len(entries) != 0 {
		t.Errorf("Entries = %v, %v", entries, err)
	}
}

func TestDefaultPath(t *testing.T) {
	p := DefaultPath()
	if filepath.Base(p) != defaultFileName || filepath.Base(filepath.Dir(p)) != appName {
		t.Errorf("DefaultPath() = %q", p)
	}
}
