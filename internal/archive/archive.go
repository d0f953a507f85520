// Package archive indexes uploaded conversation transcripts by meaning so
// the past-conversations page can search them ("customer wanted a refund for
// cold fries") instead of scrolling through file names.
//
// Each transcript is cut into windows of consecutive turns, plus one chunk
// for the coaching summary. Chunks are embedded with an embeddings.Provider
// and stored in a [ChunkStore]: [PGStore] (pgvector) in production,
// [MemoryStore] for local runs and tests.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/burgerxpress/internal/persistence"
	"github.com/MrWong99/burgerxpress/pkg/provider/embeddings"
)

// DefaultWindow is the number of turns per chunk.
const DefaultWindow = 6

// Chunk is one embedded slice of a transcript.
type Chunk struct {
	ID        string
	FileID    string
	Name      string
	Seq       int
	Content   string
	Embedding []float32
}

// Hit is one archived conversation matching a query.
type Hit struct {
	FileID   string  `json:"id"`
	Name     string  `json:"name"`
	Snippet  string  `json:"snippet"`
	Distance float64 `json:"distance"`
}

// ScoredChunk is a chunk with its cosine distance to the query.
type ScoredChunk struct {
	Chunk
	Distance float64
}

// ChunkStore persists chunks and answers nearest-neighbour queries.
type ChunkStore interface {
	// Upsert replaces all chunks of the files present in chunks.
	Upsert(ctx context.Context, chunks []Chunk) error

	// Nearest returns up to limit chunks ordered by ascending cosine
	// distance to vec.
	Nearest(ctx context.Context, vec []float32, limit int) ([]ScoredChunk, error)

	// FileIDs returns the IDs of every indexed file.
	FileIDs(ctx context.Context) (map[string]bool, error)
}

// Document is a transcript file ready for indexing.
type Document struct {
	FileID string
	Name   string
	Text   string
}

// Service embeds and searches transcripts.
type Service struct {
	store  ChunkStore
	emb    embeddings.Provider
	window int
}

// Option configures a [Service].
type Option func(*Service)

// WithWindow sets the number of turns per chunk.
func WithWindow(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.window = n
		}
	}
}

// New returns a Service over store and emb.
func New(store ChunkStore, emb embeddings.Provider, opts ...Option) *Service {
	s := &Service{store: store, emb: emb, window: DefaultWindow}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Split cuts a transcript file into chunk texts. Files in the transcript
// format yield turn windows of size window followed by the coaching
// summary; anything else is split on blank lines.
func Split(text string, window int) []string {
	if window <= 0 {
		window = DefaultWindow
	}
	doc, err := persistence.ParseTranscriptDocument(text)
	if err != nil {
		var out []string
		for _, p := range strings.Split(text, "\n\n") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	var out []string
	lines := doc.Turns.Lines()
	for start := 0; start < len(lines); start += window {
		end := min(start+window, len(lines))
		out = append(out, strings.Join(lines[start:end], "\n"))
	}
	if s := strings.TrimSpace(doc.Summary); s != "" {
		out = append(out, s)
	}
	return out
}

// Index embeds doc and stores its chunks. Re-indexing a file replaces its
// previous chunks.
func (s *Service) Index(ctx context.Context, doc Document) error {
	texts := Split(doc.Text, s.window)
	if len(texts) == 0 {
		return nil
	}
	vecs, err := s.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("archive: embed %s: %w", doc.Name, err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("archive: embed %s: got %d vectors for %d chunks", doc.Name, len(vecs), len(texts))
	}
	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{
			ID:        doc.FileID + "#" + strconv.Itoa(i),
			FileID:    doc.FileID,
			Name:      doc.Name,
			Seq:       i,
			Content:   t,
			Embedding: vecs[i],
		}
	}
	if err := s.store.Upsert(ctx, chunks); err != nil {
		return fmt.Errorf("archive: store %s: %w", doc.Name, err)
	}
	return nil
}

// Search returns up to k distinct conversations closest to query. The
// snippet of each hit is its best-matching chunk.
func (s *Service) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("archive: empty query")
	}
	if k <= 0 {
		k = 5
	}
	vec, err := s.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("archive: embed query: %w", err)
	}
	// Several chunks usually belong to one file; over-fetch before
	// collapsing to files.
	scored, err := s.store.Nearest(ctx, vec, k*4)
	if err != nil {
		return nil, fmt.Errorf("archive: search: %w", err)
	}

	hits := []Hit{}
	seen := make(map[string]bool)
	for _, c := range scored {
		if seen[c.FileID] {
			continue
		}
		seen[c.FileID] = true
		hits = append(hits, Hit{FileID: c.FileID, Name: c.Name, Snippet: c.Content, Distance: c.Distance})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Backfill indexes every file in folderID that is not indexed yet, with at
// most parallel downloads in flight. Per-file failures are logged and
// counted; only listing the index itself fails the call.
func (s *Service) Backfill(ctx context.Context, gw persistence.Gateway, folderID string, parallel int) (indexed int, err error) {
	known, err := s.store.FileIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("archive: backfill: %w", err)
	}
	if parallel <= 0 {
		parallel = 4
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, f := range gw.ListFiles(ctx, folderID, persistence.MIMEText) {
		if known[f.ID] {
			continue
		}
		g.Go(func() error {
			data, err := gw.DownloadFile(gctx, f.ID)
			if err == nil {
				err = s.Index(gctx, Document{FileID: f.ID, Name: f.Name, Text: string(data)})
			}
			if err != nil {
				slog.Warn("archive: backfill file", "file", f.Name, "err", err)
				return nil
			}
			mu.Lock()
			indexed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return indexed, ctx.Err()
}
