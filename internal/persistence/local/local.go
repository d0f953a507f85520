// Package local provides a file-system persistence backend for development
// and single-machine deployments. Sheets are stored as append-only JSON
// lines, one array of strings per row, and folders are plain directories.
//
//	<root>/sheets/<sheet>.jsonl
//	<root>/folders/<folderID>/<file>
package local

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MrWong99/burgerxpress/internal/persistence"
)

var _ persistence.Backend = (*Store)(nil)

// DefaultLinkPrefix turns a file ID into the trainer's own download route.
const DefaultLinkPrefix = "/api/conversations/"

// Store persists rows and files under a root directory. Safe for concurrent
// use within one process.
type Store struct {
	mu         sync.Mutex
	root       string
	linkPrefix string
}

// Option configures a [Store].
type Option func(*Store)

// WithLinkPrefix sets the prefix placed before file IDs in returned links.
func WithLinkPrefix(prefix string) Option {
	return func(s *Store) { s.linkPrefix = prefix }
}

// New returns a Store rooted at dir. The directory is created on first write.
func New(dir string, opts ...Option) *Store {
	s := &Store{root: dir, linkPrefix: DefaultLinkPrefix}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) sheetPath(sheet persistence.Sheet) string {
	return filepath.Join(s.root, "sheets", string(sheet)+".jsonl")
}

func (s *Store) folderPath(folderID string) (string, error) {
	if !validSegment(folderID) {
		return "", fmt.Errorf("local: invalid folder id %q", folderID)
	}
	return filepath.Join(s.root, "folders", folderID), nil
}

// validSegment rejects names that would escape the root directory.
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// AppendRecord implements persistence.Gateway.
func (s *Store) AppendRecord(_ context.Context, sheet persistence.Sheet, values []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("local: marshal row: %w: %w", persistence.ErrPersistence, err)
	}
	data = append(data, '\n')

	p := s.sheetPath(sheet)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("local: create sheet dir: %w: %w", persistence.ErrPersistence, err)
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("local: open sheet: %w: %w", persistence.ErrPersistence, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("local: append row: %w: %w", persistence.ErrPersistence, err)
	}
	return nil
}

// ReadRecords implements persistence.RecordReader. A sheet that was never
// written is empty.
func (s *Store) ReadRecords(_ context.Context, sheet persistence.Sheet) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.sheetPath(sheet))
	if errors.Is(err, os.ErrNotExist) {
		return [][]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("local: open sheet: %w", err)
	}
	defer f.Close()

	rows := [][]string{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var row []string
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("local: %s line %d: %w", sheet, n, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("local: read sheet: %w", err)
	}
	return rows, nil
}

// UploadFile implements persistence.Gateway. The file ID is
// "<folderID>/<name>".
func (s *Store) UploadFile(_ context.Context, localPath, folderID string) (string, error) {
	dir, err := s.folderPath(folderID)
	if err != nil {
		return "", fmt.Errorf("local: upload: %w: %w", persistence.ErrPersistence, err)
	}
	name := filepath.Base(localPath)

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("local: upload: %w: %w", persistence.ErrPersistence, err)
	}
	defer src.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("local: upload: %w: %w", persistence.ErrPersistence, err)
	}
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("local: upload: %w: %w", persistence.ErrPersistence, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("local: upload: %w: %w", persistence.ErrPersistence, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("local: upload: %w: %w", persistence.ErrPersistence, err)
	}
	return s.linkPrefix + path.Join(folderID, name), nil
}

// ListFiles implements persistence.Gateway. The MIME type is inferred from
// the file extension.
func (s *Store) ListFiles(_ context.Context, folderID, mimeType string) []persistence.File {
	dir, err := s.folderPath(folderID)
	if err != nil {
		slog.Warn("local: list files", "folder", folderID, "err", err)
		return []persistence.File{}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("local: list files", "folder", folderID, "err", err)
		}
		return []persistence.File{}
	}

	files := []persistence.File{}
	for _, e := range entries {
		if e.IsDir() || !mimeMatches(e.Name(), mimeType) {
			continue
		}
		files = append(files, persistence.File{ID: path.Join(folderID, e.Name()), Name: e.Name()})
	}
	return files
}

func mimeMatches(name, want string) bool {
	if want == "" {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	typ := mime.TypeByExtension(ext)
	if typ == "" && ext == ".txt" {
		// Not in Go's built-in table; system tables may be absent.
		typ = persistence.MIMEText
	}
	got, _, err := mime.ParseMediaType(typ)
	if err != nil {
		return false
	}
	return got == want
}

// DownloadFile implements persistence.Gateway.
func (s *Store) DownloadFile(_ context.Context, id string) ([]byte, error) {
	folderID, name, ok := strings.Cut(id, "/")
	if !ok || !validSegment(name) {
		return nil, fmt.Errorf("local: download %q: %w", id, persistence.ErrNotFound)
	}
	dir, err := s.folderPath(folderID)
	if err != nil {
		return nil, fmt.Errorf("local: download %q: %w", id, persistence.ErrNotFound)
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("local: download %q: %w", id, persistence.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("local: download %q: %w", id, err)
	}
	return data, nil
}
