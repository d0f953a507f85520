// Package persistence defines the gateway through which finished
// conversations and feedback leave the process: rows appended to two
// spreadsheets and text files stored in folders.
//
// Backends live in sub-packages: google (Sheets + Drive), postgres, local
// (files on disk) and mock.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrPersistence is wrapped by every failed write.
var ErrPersistence = errors.New("persistence: write failed")

// ErrNotFound is returned by DownloadFile for unknown IDs.
var ErrNotFound = errors.New("persistence: not found")

// Sheet names a record sheet by its title.
type Sheet string

const (
	// SheetConversations receives one row per submitted conversation.
	SheetConversations Sheet = "BurgerXpress_Analytics"

	// SheetFeedback receives one row per general-feedback submission.
	SheetFeedback Sheet = "Feedback_Analytics"
)

// MIMEText is the media type of every file the trainer uploads.
const MIMEText = "text/plain"

// File is an entry in a storage folder.
type File struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Gateway is the write side used by the session controller and the read
// side of the past-conversations page.
type Gateway interface {
	// AppendRecord appends one row to sheet.
	AppendRecord(ctx context.Context, sheet Sheet, values []string) error

	// UploadFile stores the file at localPath in folderID and returns a link
	// a person can open.
	UploadFile(ctx context.Context, localPath, folderID string) (link string, err error)

	// ListFiles returns the files of mimeType in folderID. Failures are
	// logged and reported as an empty list.
	ListFiles(ctx context.Context, folderID, mimeType string) []File

	// DownloadFile returns the content of the file with the given ID.
	DownloadFile(ctx context.Context, id string) ([]byte, error)
}

// RecordReader reads every row of a sheet, header rows included.
type RecordReader interface {
	ReadRecords(ctx context.Context, sheet Sheet) ([][]string, error)
}

// Backend is implemented by every concrete store.
type Backend interface {
	Gateway
	RecordReader
}

// SaveLocal writes content to dir/name and returns the file path. dir is
// created when missing.
func SaveLocal(dir, name, content string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("persistence: save local: %w: %w", ErrPersistence, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("persistence: save local: %w: %w", ErrPersistence, err)
	}
	return path, nil
}
