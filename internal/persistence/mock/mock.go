// Package mock provides a call-recording test double for persistence.Backend.
//
//	gw := &mock.Gateway{UploadLink: "https://drive/x"}
//	ctrl := session.NewController(session.Config{Gateway: gw, ...})
package mock

import (
	"context"
	"os"
	"slices"
	"sync"

	"github.com/MrWong99/burgerxpress/internal/persistence"
)

var _ persistence.Backend = (*Gateway)(nil)

// AppendCall records one AppendRecord invocation.
type AppendCall struct {
	Sheet  persistence.Sheet
	Values []string
}

// UploadCall records one UploadFile invocation together with the file
// content at the time of the call.
type UploadCall struct {
	LocalPath string
	FolderID  string
	Content   string
}

// ListCall records one ListFiles invocation.
type ListCall struct {
	FolderID string
	MIMEType string
}

// Gateway is a mock implementation of persistence.Backend. Zero value is
// ready to use.
type Gateway struct {
	mu sync.Mutex

	AppendErr error

	// UploadLink is returned by UploadFile. UploadErr takes precedence.
	UploadLink string
	UploadErr  error

	ListResult []persistence.File

	// Files maps IDs to content for DownloadFile. Unknown IDs return
	// persistence.ErrNotFound unless DownloadErr is set.
	Files       map[string][]byte
	DownloadErr error

	// Rows is returned by ReadRecords per sheet. Successful AppendRecord
	// calls are appended here as well.
	Rows    map[persistence.Sheet][][]string
	ReadErr error

	AppendCalls   []AppendCall
	UploadCalls   []UploadCall
	ListCalls     []ListCall
	DownloadCalls []string
	ReadCalls     []persistence.Sheet
}

// AppendRecord records the call and stores the row unless AppendErr is set.
func (g *Gateway) AppendRecord(_ context.Context, sheet persistence.Sheet, values []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.AppendCalls = append(g.AppendCalls, AppendCall{Sheet: sheet, Values: slices.Clone(values)})
	if g.AppendErr != nil {
		return g.AppendErr
	}
	if g.Rows == nil {
		g.Rows = make(map[persistence.Sheet][][]string)
	}
	g.Rows[sheet] = append(g.Rows[sheet], slices.Clone(values))
	return nil
}

// UploadFile records the call and returns UploadLink, UploadErr.
func (g *Gateway) UploadFile(_ context.Context, localPath, folderID string) (string, error) {
	data, _ := os.ReadFile(localPath)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.UploadCalls = append(g.UploadCalls, UploadCall{LocalPath: localPath, FolderID: folderID, Content: string(data)})
	if g.UploadErr != nil {
		return "", g.UploadErr
	}
	return g.UploadLink, nil
}

// ListFiles records the call and returns a copy of ListResult.
func (g *Gateway) ListFiles(_ context.Context, folderID, mimeType string) []persistence.File {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ListCalls = append(g.ListCalls, ListCall{FolderID: folderID, MIMEType: mimeType})
	out := make([]persistence.File, len(g.ListResult))
	copy(out, g.ListResult)
	return out
}

// DownloadFile records the call and returns the entry from Files.
func (g *Gateway) DownloadFile(_ context.Context, id string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.DownloadCalls = append(g.DownloadCalls, id)
	if g.DownloadErr != nil {
		return nil, g.DownloadErr
	}
	data, ok := g.Files[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return slices.Clone(data), nil
}

// ReadRecords records the call and returns the rows of sheet.
func (g *Gateway) ReadRecords(_ context.Context, sheet persistence.Sheet) ([][]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ReadCalls = append(g.ReadCalls, sheet)
	if g.ReadErr != nil {
		return nil, g.ReadErr
	}
	rows := make([][]string, 0, len(g.Rows[sheet]))
	for _, r := range g.Rows[sheet] {
		rows = append(rows, slices.Clone(r))
	}
	return rows, nil
}

// Calls returns the total number of calls that reach a remote store:
// appends, uploads, lists and downloads.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.AppendCalls) + len(g.UploadCalls) + len(g.ListCalls) + len(g.DownloadCalls)
}

// Reset clears all recorded calls.
func (g *Gateway) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.AppendCalls = nil
	g.UploadCalls = nil
	g.ListCalls = nil
	g.DownloadCalls = nil
	g.ReadCalls = nil
}
