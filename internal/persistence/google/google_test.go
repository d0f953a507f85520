package google_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/MrWong99/burgerxpress/internal/persistence"
	"github.com/MrWong99/burgerxpress/internal/persistence/google"
)

// fakeAPI serves the subset of the Drive and Sheets REST APIs the store uses.
type fakeAPI struct {
	mu        sync.Mutex
	lookups   int
	appended  [][]any
	uploads   []string
	listQuery string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	p := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(p, "/files"):
		q := r.URL.Query().Get("q")
		if strings.Contains(q, "application/vnd.google-apps.spreadsheet") {
			f.lookups++
			if strings.Contains(q, "'Missing'") {
				io.WriteString(w, `{"files":[]}`)
				return
			}
			io.WriteString(w, `{"files":[{"id":"sheet-1","name":"BurgerXpress_Analytics"}]}`)
			return
		}
		f.listQuery = q
		io.WriteString(w, `{"files":[{"id":"f1","name":"conversation_a.txt"},{"id":"f2","name":"conversation_b.txt"}]}`)

	case r.Method == http.MethodPost && strings.HasSuffix(p, "/files"):
		body, _ := io.ReadAll(r.Body)
		f.uploads = append(f.uploads, string(body))
		io.WriteString(w, `{"id":"new","webViewLink":"https://drive.google.com/file/d/new/view"}`)

	case r.Method == http.MethodGet && strings.HasSuffix(p, "/files/f1"):
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "=== Conversation History ===\n")

	case strings.Contains(p, "/files/broken"), strings.Contains(p, "/spreadsheets/sheet-broken/"):
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"code":500,"message":"backend error"}}`)

	case r.Method == http.MethodGet && strings.Contains(p, "/files/"):
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"code":404,"message":"File not found"}}`)

	case r.Method == http.MethodPost && strings.HasSuffix(p, ":append"):
		var vr struct {
			Values [][]any `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("valueInputOption") != "RAW" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.appended = append(f.appended, vr.Values...)
		io.WriteString(w, `{}`)

	case r.Method == http.MethodGet && strings.Contains(p, "/spreadsheets/sheet-1/values/"):
		io.WriteString(w, `{"range":"Sheet1!A1:Z2","values":[["Filename","Rating"],["conversation_a.txt",4]]}`)

	default:
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"code":404,"message":"unexpected `+r.Method+" "+p+`"}}`)
	}
}

func newStore(t *testing.T, opts ...google.Option) (*google.Store, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	clientOpts := []option.ClientOption{
		option.WithEndpoint(srv.URL + "/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	}
	drv, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		t.Fatalf("drive.NewService: %v", err)
	}
	sh, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		t.Fatalf("sheets.NewService: %v", err)
	}
	return google.NewWithServices(drv, sh, opts...), api
}

func TestStore_AppendRecordCachesSheetID(t *testing.T) {
	t.Parallel()

	s, api := newStore(t)
	ctx := context.Background()

	for _, row := range [][]string{{"a", "N/A"}, {"b", "5"}} {
		if err := s.AppendRecord(ctx, persistence.SheetConversations, row); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.lookups != 1 {
		t.Errorf("sheet lookups = %d, want 1", api.lookups)
	}
	want := [][]any{{"a", "N/A"}, {"b", "5"}}
	if !reflect.DeepEqual(api.appended, want) {
		t.Errorf("appended = %v, want %v", api.appended, want)
	}
}

func TestStore_AppendRecordPinnedID(t *testing.T) {
	t.Parallel()

	s, api := newStore(t, google.WithSheetID(persistence.SheetConversations, "sheet-1"))
	if err := s.AppendRecord(context.Background(), persistence.SheetConversations, []string{"x"}); err != nil {
		t.Fatalf("AppendRecord: %v", err)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.lookups != 0 {
		t.Errorf("sheet lookups = %d, want 0", api.lookups)
	}
}

func TestStore_AppendRecordMissingSheet(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	err := s.AppendRecord(context.Background(), persistence.Sheet("Missing"), []string{"x"})
	if !errors.Is(err, persistence.ErrPersistence) {
		t.Errorf("err = %v, want ErrPersistence", err)
	}
}

func TestStore_ReadRecords(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	rows, err := s.ReadRecords(context.Background(), persistence.SheetConversations)
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	want := [][]string{{"Filename", "Rating"}, {"conversation_a.txt", "4"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("rows = %v, want %v", rows, want)
	}
}

func TestStore_UploadFile(t *testing.T) {
	t.Parallel()

	s, api := newStore(t)
	src := filepath.Join(t.TempDir(), "conversation_a.txt")
	if err := os.WriteFile(src, []byte("transcript body"), 0o644); err != nil {
		t.Fatal(err)
	}

	link, err := s.UploadFile(context.Background(), src, "folder-1")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if link != "https://drive.google.com/file/d/new/view" {
		t.Errorf("link = %q", link)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(api.uploads))
	}
	for _, want := range []string{"conversation_a.txt", "folder-1", "transcript body"} {
		if !strings.Contains(api.uploads[0], want) {
			t.Errorf("upload body missing %q", want)
		}
	}
}

func TestStore_ListFiles(t *testing.T) {
	t.Parallel()

	s, api := newStore(t)
	files := s.ListFiles(context.Background(), "folder-1", persistence.MIMEText)
	want := []persistence.File{{ID: "f1", Name: "conversation_a.txt"}, {ID: "f2", Name: "conversation_b.txt"}}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("files = %v, want %v", files, want)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if api.listQuery != "'folder-1' in parents and mimeType='text/plain' and trashed=false" {
		t.Errorf("query = %q", api.listQuery)
	}
}

func TestStore_ListFilesDegradesToEmpty(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	drv, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"), option.WithoutAuthentication(), option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	s := google.NewWithServices(drv, nil)

	files := s.ListFiles(context.Background(), "folder-1", persistence.MIMEText)
	if files == nil || len(files) != 0 {
		t.Errorf("files = %#v, want empty non-nil slice", files)
	}
}

func TestStore_DownloadFile(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	ctx := context.Background()

	data, err := s.DownloadFile(ctx, "f1")
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if string(data) != "=== Conversation History ===\n" {
		t.Errorf("content = %q", data)
	}

	if _, err := s.DownloadFile(ctx, "gone"); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ReadFailuresArePersistenceErrors(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t, google.WithSheetID(persistence.SheetFeedback, "sheet-broken"))
	ctx := context.Background()

	if _, err := s.ReadRecords(ctx, persistence.SheetFeedback); !errors.Is(err, persistence.ErrPersistence) {
		t.Errorf("ReadRecords err = %v, want ErrPersistence", err)
	}
	_, err := s.DownloadFile(ctx, "broken")
	if !errors.Is(err, persistence.ErrPersistence) {
		t.Errorf("DownloadFile err = %v, want ErrPersistence", err)
	}
	if errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("DownloadFile err = %v, must not be ErrNotFound", err)
	}
}
