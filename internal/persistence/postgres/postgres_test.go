package postgres_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/burgerxpress/internal/persistence"
	"github.com/MrWong99/burgerxpress/internal/persistence/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if BX_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("BX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BX_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS sheet_rows, stored_files`); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn, postgres.WithLinkPrefix("http://trainer/f/"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// The tests below share one schema and therefore do not run in parallel.

func TestStore_Records(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rows, err := s.ReadRecords(ctx, persistence.SheetConversations)
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %v, want empty", rows)
	}

	want := [][]string{
		persistence.ConversationHeader,
		{"conversation_a.txt", "2025-01-01 10-00-00", "N/A"},
	}
	for _, r := range want {
		if err := s.AppendRecord(ctx, persistence.SheetConversations, r); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
	}
	if err := s.AppendRecord(ctx, persistence.SheetFeedback, []string{"x"}); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}

	got, err := s.ReadRecords(ctx, persistence.SheetConversations)
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("rows = %v, want %v", got, want)
	}
}

func TestStore_Files(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "conversation_a.txt")
	if err := os.WriteFile(src, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	link, err := s.UploadFile(ctx, src, "conversations")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if !strings.HasPrefix(link, "http://trainer/f/") {
		t.Errorf("link = %q", link)
	}

	files := s.ListFiles(ctx, "conversations", persistence.MIMEText)
	if len(files) != 1 || files[0].Name != "conversation_a.txt" {
		t.Fatalf("ListFiles = %v", files)
	}
	if got := s.ListFiles(ctx, "testing", persistence.MIMEText); len(got) != 0 {
		t.Errorf("other folder = %v, want empty", got)
	}

	data, err := s.DownloadFile(ctx, files[0].ID)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("content = %q", data)
	}

	for _, id := range []string{"not-a-uuid", "00000000-0000-0000-0000-000000000000"} {
		if _, err := s.DownloadFile(ctx, id); !errors.Is(err, persistence.ErrNotFound) {
			t.Errorf("DownloadFile(%q) err = %v, want ErrNotFound", id, err)
		}
	}
}
