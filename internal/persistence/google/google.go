// Package google implements persistence.Backend on Google Sheets v4 and
// Google Drive v3. Sheets are opened by title, like a person would in the
// Drive UI, and rows go to the first worksheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/MrWong99/burgerxpress/internal/persistence"
)

const spreadsheetMIME = "application/vnd.google-apps.spreadsheet"

var _ persistence.Backend = (*Store)(nil)

// Store talks to Drive and Sheets. Spreadsheet IDs are resolved once per
// title and cached. Safe for concurrent use.
type Store struct {
	drive  *drive.Service
	sheets *sheets.Service

	mu       sync.Mutex
	sheetIDs map[persistence.Sheet]string
}

// Option configures a [Store].
type Option func(*Store)

// WithSheetID pins the spreadsheet ID for sheet and skips the title lookup.
func WithSheetID(sheet persistence.Sheet, id string) Option {
	return func(s *Store) {
		if id != "" {
			s.sheetIDs[sheet] = id
		}
	}
}

// New creates a Store authenticated with the service-account key at
// credentialsFile. An empty path falls back to application default
// credentials.
func New(ctx context.Context, credentialsFile string, opts ...Option) (*Store, error) {
	clientOpts := []option.ClientOption{option.WithScopes(drive.DriveScope, sheets.SpreadsheetsScope)}
	if credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}
	drv, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google: drive service: %w", err)
	}
	sh, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google: sheets service: %w", err)
	}
	return NewWithServices(drv, sh, opts...), nil
}

// NewWithServices wraps already constructed API services.
func NewWithServices(drv *drive.Service, sh *sheets.Service, opts ...Option) *Store {
	s := &Store{drive: drv, sheets: sh, sheetIDs: make(map[persistence.Sheet]string)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// quote escapes a literal for a Drive search query.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func (s *Store) sheetID(ctx context.Context, sheet persistence.Sheet) (string, error) {
	s.mu.Lock()
	id, ok := s.sheetIDs[sheet]
	s.mu.Unlock()
	if ok {
		return id, nil
	}

	q := fmt.Sprintf("name = %s and mimeType = %s and trashed = false", quote(string(sheet)), quote(spreadsheetMIME))
	list, err := s.drive.Files.List().Q(q).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("google: find sheet %q: %w", sheet, err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("google: find sheet %q: %w", sheet, persistence.ErrNotFound)
	}
	id = list.Files[0].Id

	s.mu.Lock()
	s.sheetIDs[sheet] = id
	s.mu.Unlock()
	return id, nil
}

// AppendRecord implements persistence.Gateway. Values are written RAW so
// that timestamps and "N/A" stay text.
func (s *Store) AppendRecord(ctx context.Context, sheet persistence.Sheet, values []string) error {
	id, err := s.sheetID(ctx, sheet)
	if err != nil {
		return fmt.Errorf("google: append: %w: %w", persistence.ErrPersistence, err)
	}
	row := make([]any, len(values))
	for i, v := range values {
		row[i] = v
	}
	_, err = s.sheets.Spreadsheets.Values.Append(id, "A1", &sheets.ValueRange{Values: [][]any{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("google: append %s: %w: %w", sheet, persistence.ErrPersistence, err)
	}
	return nil
}

// ReadRecords implements persistence.RecordReader using formatted values.
func (s *Store) ReadRecords(ctx context.Context, sheet persistence.Sheet) ([][]string, error) {
	id, err := s.sheetID(ctx, sheet)
	if err != nil {
		return nil, fmt.Errorf("google: read: %w: %w", persistence.ErrPersistence, err)
	}
	vr, err := s.sheets.Spreadsheets.Values.Get(id, "A:Z").
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("google: read %s: %w: %w", sheet, persistence.ErrPersistence, err)
	}
	rows := make([][]string, 0, len(vr.Values))
	for _, r := range vr.Values {
		row := make([]string, len(r))
		for i, c := range r {
			row[i] = fmt.Sprint(c)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// UploadFile implements persistence.Gateway and returns the webViewLink.
func (s *Store) UploadFile(ctx context.Context, localPath, folderID string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("google: upload: %w: %w", persistence.ErrPersistence, err)
	}
	defer f.Close()

	meta := &drive.File{Name: filepath.Base(localPath)}
	if folderID != "" {
		meta.Parents = []string{folderID}
	}
	created, err := s.drive.Files.Create(meta).
		Media(f, googleapi.ContentType(persistence.MIMEText)).
		Fields("id, webViewLink").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("google: upload %s: %w: %w", meta.Name, persistence.ErrPersistence, err)
	}
	return created.WebViewLink, nil
}

// ListFiles implements persistence.Gateway. All result pages are fetched.
func (s *Store) ListFiles(ctx context.Context, folderID, mimeType string) []persistence.File {
	q := fmt.Sprintf("%s in parents and mimeType=%s and trashed=false", quote(folderID), quote(mimeType))
	files := []persistence.File{}
	err := s.drive.Files.List().Q(q).Fields("nextPageToken, files(id, name)").Pages(ctx, func(l *drive.FileList) error {
		for _, f := range l.Files {
			files = append(files, persistence.File{ID: f.Id, Name: f.Name})
		}
		return nil
	})
	if err != nil {
		slog.Warn("google: list files", "folder", folderID, "err", err)
		return []persistence.File{}
	}
	return files
}

// DownloadFile implements persistence.Gateway.
func (s *Store) DownloadFile(ctx context.Context, id string) ([]byte, error) {
	resp, err := s.drive.Files.Get(id).Context(ctx).Download()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, fmt.Errorf("google: download %q: %w", id, persistence.ErrNotFound)
		}
		return nil, fmt.Errorf("google: download %q: %w: %w", id, persistence.ErrPersistence, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("google: download %q: %w: %w", id, persistence.ErrPersistence, err)
	}
	return data, nil
}
