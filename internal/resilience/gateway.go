package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/burgerxpress/internal/observe"
	"github.com/MrWong99/burgerxpress/internal/persistence"
)

// GatewayBreaker fronts a persistence backend with one circuit breaker. A
// dead backend then fails a submit immediately instead of making the
// employee wait for a network timeout on every write.
//
// Writes rejected by an open breaker wrap both persistence.ErrPersistence
// and [ErrCircuitOpen]. Not-found downloads do not count as failures.
type GatewayBreaker struct {
	inner   persistence.Backend
	breaker *CircuitBreaker
}

var _ persistence.Backend = (*GatewayBreaker)(nil)

// NewGatewayBreaker wraps inner. cfg.IsFailure is replaced.
func NewGatewayBreaker(inner persistence.Backend, cfg CircuitBreakerConfig) *GatewayBreaker {
	if cfg.Name == "" {
		cfg.Name = "persistence"
	}
	cfg.IsFailure = func(err error) bool { return !errors.Is(err, persistence.ErrNotFound) }
	return &GatewayBreaker{inner: inner, breaker: NewCircuitBreaker(cfg)}
}

// State exposes the breaker state for readiness reporting.
func (g *GatewayBreaker) State() State { return g.breaker.State() }

// AppendRecord implements persistence.Gateway.
func (g *GatewayBreaker) AppendRecord(ctx context.Context, sheet persistence.Sheet, values []string) error {
	err := g.breaker.Execute(func() error { return g.inner.AppendRecord(ctx, sheet, values) })
	if errors.Is(err, ErrCircuitOpen) {
		return fmt.Errorf("resilience: append %s: %w: %w", sheet, persistence.ErrPersistence, err)
	}
	return err
}

// UploadFile implements persistence.Gateway.
func (g *GatewayBreaker) UploadFile(ctx context.Context, localPath, folderID string) (string, error) {
	var link string
	err := g.breaker.Execute(func() error {
		var err error
		link, err = g.inner.UploadFile(ctx, localPath, folderID)
		return err
	})
	if errors.Is(err, ErrCircuitOpen) {
		return "", fmt.Errorf("resilience: upload: %w: %w", persistence.ErrPersistence, err)
	}
	return link, err
}

// ListFiles implements persistence.Gateway. An open breaker yields an
// empty list, the same as a failed listing.
func (g *GatewayBreaker) ListFiles(ctx context.Context, folderID, mimeType string) []persistence.File {
	var files []persistence.File
	err := g.breaker.Execute(func() error {
		files = g.inner.ListFiles(ctx, folderID, mimeType)
		return nil
	})
	if err != nil {
		observe.Logger(ctx).Warn("resilience: list files skipped", "folder", folderID, "err", err)
		return []persistence.File{}
	}
	return files
}

// DownloadFile implements persistence.Gateway.
func (g *GatewayBreaker) DownloadFile(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := g.breaker.Execute(func() error {
		var err error
		data, err = g.inner.DownloadFile(ctx, id)
		return err
	})
	return data, err
}

// ReadRecords implements persistence.RecordReader.
func (g *GatewayBreaker) ReadRecords(ctx context.Context, sheet persistence.Sheet) ([][]string, error) {
	var rows [][]string
	err := g.breaker.Execute(func() error {
		var err error
		rows, err = g.inner.ReadRecords(ctx, sheet)
		return err
	})
	return rows, err
}
