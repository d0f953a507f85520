package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/burgerxpress/internal/analytics"
	"github.com/MrWong99/burgerxpress/internal/archive"
	"github.com/MrWong99/burgerxpress/internal/chatsim"
	"github.com/MrWong99/burgerxpress/internal/coaching"
	"github.com/MrWong99/burgerxpress/internal/content"
	"github.com/MrWong99/burgerxpress/internal/persistence"
	"github.com/MrWong99/burgerxpress/internal/persistence/mock"
	"github.com/MrWong99/burgerxpress/internal/session"
	"github.com/MrWong99/burgerxpress/internal/speech"
	"github.com/MrWong99/burgerxpress/pkg/provider/llm"
	llmmock "github.com/MrWong99/burgerxpress/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/burgerxpress/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/burgerxpress/pkg/provider/tts/mock"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

const coachReply = `- Rule Compliance: Offered a replacement.

=== Scores ===
Rule Compliance: 4
Escalation Handling: Pass
Professionalism: 3
Clarity: 5
`

type fakeSearch struct {
	hits  []archive.Hit
	err   error
	query string
	k     int
}

func (f *fakeSearch) Search(_ context.Context, query string, k int) ([]archive.Hit, error) {
	f.query, f.k = query, k
	return f.hits, f.err
}

type fixture struct {
	srv    *httptest.Server
	client *http.Client
	chat   *llmmock.Provider
	gw     *mock.Gateway
	search *fakeSearch
}

// newFixture builds a server over mocks. setup runs before the server
// starts so that it may configure the mocks without racing handlers.
func newFixture(t *testing.T, setup ...func(*fixture)) *fixture {
	t.Helper()
	store, err := content.Load("")
	if err != nil {
		t.Fatalf("content.Load: %v", err)
	}
	f := &fixture{
		chat: &llmmock.Provider{StreamChunks: []llm.Chunk{
			{Text: "My fries "}, {Text: "were cold.", FinishReason: "stop"},
		}},
		gw: &mock.Gateway{
			UploadLink: "https://drive/x",
			Files:      map[string][]byte{},
		},
		search: &fakeSearch{},
	}
	coach := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: coachReply}}
	tts := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("mp3")}}
	stt := &sttmock.Provider{Result: types.Recognition{Text: "Let me fix that for you"}}

	ctrl := session.NewController(session.Config{
		Catalog:             store,
		Chat:                chatsim.New(f.chat, store.MenuJSON()),
		Coach:               coaching.New(coach),
		Gateway:             f.gw,
		ConversationsFolder: "conv",
		LocalDir:            t.TempDir(),
		DeveloperPassword:   "letmein",
	},
		session.WithSpeaker(speech.NewOutput(tts, types.VoiceProfile{ID: "v"})),
		session.WithListener(speech.NewInput(stt)),
		session.WithRand(rand.New(rand.NewPCG(7, 7))),
		session.WithClock(func() time.Time { return time.Date(2024, 5, 3, 14, 30, 0, 0, time.UTC) }),
	)
	s := New(Config{
		Controller:          ctrl,
		Store:               session.NewMemoryStore(time.Hour),
		Content:             store,
		Gateway:             f.gw,
		Analytics:           analytics.New(f.gw),
		ConversationsFolder: "conv",
	}, WithSearch(f.search))

	for _, fn := range setup {
		fn(f)
	}
	f.srv = httptest.NewServer(s.Handler())
	t.Cleanup(f.srv.Close)
	f.client = newClient(t)
	return f
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{Jar: jar}
}

// do sends a request and decodes a JSON response into out when out is
// non-nil. It returns the status code.
func (f *fixture) do(t *testing.T, c *http.Client, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (f *fixture) post(t *testing.T, path string, body any) (View, int) {
	t.Helper()
	var v View
	code := f.do(t, f.client, http.MethodPost, path, body, &v)
	return v, code
}

// toReview drives the fixture's session to the feedback form.
func (f *fixture) toReview(t *testing.T) View {
	t.Helper()
	for _, step := range []struct {
		path string
		body any
	}{
		{"/api/conversation/start", nil},
		{"/api/conversation/message", map[string]string{"text": "Sorry about that"}},
		{"/api/conversation/exit", nil},
		{"/api/conversation/exit/confirm", nil},
	} {
		if _, code := f.post(t, step.path, step.body); code != http.StatusOK {
			t.Fatalf("POST %s = %d", step.path, code)
		}
	}
	var v View
	f.do(t, f.client, http.MethodGet, "/api/session", nil, &v)
	return v
}

func TestConversationFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var v View
	if code := f.do(t, f.client, http.MethodGet, "/api/session", nil, &v); code != http.StatusOK {
		t.Fatalf("GET /api/session = %d", code)
	}
	if v.State != "main_menu" || len(v.Transcript) != 0 {
		t.Fatalf("fresh session = %+v", v)
	}
	id := v.ID

	v, _ = f.post(t, "/api/conversation/start", nil)
	if v.ID != id {
		t.Errorf("session ID changed: %q -> %q", id, v.ID)
	}
	if v.State != "conversing" || len(v.Transcript) != 1 || v.Transcript[0].Content != session.Greeting {
		t.Fatalf("after start = %+v", v)
	}
	if v.Scenario == "" || v.Personality == "" {
		t.Errorf("persona not seeded: %+v", v)
	}

	v, _ = f.post(t, "/api/conversation/message", map[string]string{"text": "  Sorry about that  "})
	if len(v.Transcript) != 3 || v.Transcript[1].Content != "Sorry about that" || v.Transcript[2].Content != "My fries were cold." {
		t.Fatalf("transcript = %+v", v.Transcript)
	}

	v, _ = f.post(t, "/api/conversation/exit", nil)
	if v.State != "pending_exit" {
		t.Fatalf("after exit = %s", v.State)
	}
	v, _ = f.post(t, "/api/conversation/exit/cancel", nil)
	if v.State != "conversing" {
		t.Fatalf("after cancel = %s", v.State)
	}
	f.post(t, "/api/conversation/exit", nil)
	v, _ = f.post(t, "/api/conversation/exit/confirm", nil)
	if v.State != "reviewing_feedback" || v.Coaching == nil || v.Coaching.Scores.RuleCompliance != "4" {
		t.Fatalf("after confirm = %+v", v)
	}

	v, code := f.post(t, "/api/conversation/feedback", map[string]any{"rating": 4, "comments": "good"})
	if code != http.StatusOK || v.State != "submitted" {
		t.Fatalf("feedback = %d %s", code, v.State)
	}
	if v.Feedback == nil || v.Feedback.Link != "https://drive/x" {
		t.Errorf("feedback record = %+v", v.Feedback)
	}
	if len(f.gw.AppendCalls) != 1 || f.gw.AppendCalls[0].Sheet != persistence.SheetConversations {
		t.Errorf("append calls = %+v", f.gw.AppendCalls)
	}

	v, _ = f.post(t, "/api/home", nil)
	if v.State != "main_menu" || len(v.Transcript) != 0 {
		t.Errorf("after home = %+v", v)
	}
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		path  string
		body  any
		want  int
	}{
		{name: "confirm without conversation", path: "/api/conversation/exit/confirm", want: http.StatusConflict},
		{name: "message without conversation", path: "/api/conversation/message", body: map[string]string{"text": "hi"}, want: http.StatusConflict},
		{name: "unknown page", path: "/api/navigate", body: map[string]string{"page": "Kitchen"}, want: http.StatusBadRequest},
		{name: "unknown field", path: "/api/navigate", body: map[string]string{"pgae": "Main Menu"}, want: http.StatusBadRequest},
		{name: "unknown role", path: "/api/role", body: map[string]string{"role": "chef"}, want: http.StatusBadRequest},
		{name: "general feedback without rating", path: "/api/general-feedback", body: map[string]any{}, want: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			var body errorBody
			code := f.do(t, f.client, http.MethodPost, tc.path, tc.body, &body)
			if code != tc.want {
				t.Errorf("status = %d, want %d (%s)", code, tc.want, body.Error)
			}
			if body.Error == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestMessage_Rejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) { f.chat.StreamErr = errors.New("quota exceeded") })
	f.post(t, "/api/conversation/start", nil)

	if _, code := f.post(t, "/api/conversation/message", map[string]string{"text": "   "}); code != http.StatusBadRequest {
		t.Errorf("blank message = %d, want 400", code)
	}
	if _, code := f.post(t, "/api/conversation/message", map[string]string{"text": "hello"}); code != http.StatusBadGateway {
		t.Errorf("model failure = %d, want 502", code)
	}

	var v View
	f.do(t, f.client, http.MethodGet, "/api/session", nil, &v)
	if len(v.Transcript) != 1 {
		t.Errorf("failed turns left in transcript: %+v", v.Transcript)
	}
}

func TestMessage_EventStream(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.post(t, "/api/conversation/start", nil)

	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/api/conversation/message", strings.NewReader(`{"text":"Hello"}`))
	req.Header.Set("Accept", "text/event-stream")
	resp, err := f.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	raw, _ := io.ReadAll(resp.Body)
	body := string(raw)

	if got := strings.Count(body, "event: fragment\n"); got != 2 {
		t.Errorf("fragment events = %d, want 2:\n%s", got, body)
	}
	last := strings.LastIndex(body, "event: session\n")
	if last < 0 || last < strings.LastIndex(body, "event: fragment\n") {
		t.Fatalf("session event missing or not last:\n%s", body)
	}
	data := strings.TrimPrefix(strings.SplitN(body[last:], "\n", 3)[1], "data: ")
	var v View
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		t.Fatalf("decode session event: %v", err)
	}
	if len(v.Transcript) != 3 {
		t.Errorf("transcript = %+v", v.Transcript)
	}
}

func TestMessage_EventStreamRejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) { f.chat.StreamErr = errors.New("quota exceeded") })

	stream := func(text string) (*http.Response, string) {
		t.Helper()
		b, _ := json.Marshal(map[string]string{"text": text})
		req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/api/conversation/message", bytes.NewReader(b))
		req.Header.Set("Accept", "text/event-stream")
		resp, err := f.client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return resp, string(raw)
	}

	resp, body := stream("hi")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("message before start = %d, want 409: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want JSON", ct)
	}

	f.post(t, "/api/conversation/start", nil)
	if resp, body := stream("  "); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank message = %d, want 400: %s", resp.StatusCode, body)
	}

	// Once the reply has started the status is committed and the failure
	// arrives as an event.
	resp, body = stream("hello")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "event: error\n") {
		t.Errorf("model failure = %d, want 200 with error event:\n%s", resp.StatusCode, body)
	}
}

func TestTestingMode_NoRemoteCalls(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	v, _ := f.post(t, "/api/developer", map[string]string{"password": "wrong"})
	if v.TestingMode {
		t.Fatal("wrong password unlocked testing mode")
	}
	v, _ = f.post(t, "/api/developer", map[string]string{"password": "letmein"})
	if !v.TestingMode || !slices.Contains(v.Notices, "Testing Mode Enabled") {
		t.Fatalf("unlock = %+v", v)
	}

	f.toReview(t)
	v, code := f.post(t, "/api/conversation/feedback", map[string]any{"rating": 5})
	if code != http.StatusOK || v.State != "submitted" {
		t.Fatalf("feedback = %d %s", code, v.State)
	}
	var rec generalFeedbackResponse
	if code := f.do(t, f.client, http.MethodPost, "/api/general-feedback", map[string]any{"rating": 3}, &rec); code != http.StatusOK {
		t.Fatalf("general feedback = %d", code)
	}
	if n := f.gw.Calls(); n != 0 {
		t.Errorf("gateway calls in testing mode = %d, want 0", n)
	}
}

func TestFeedback_InvalidRating(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.toReview(t)

	if _, code := f.post(t, "/api/conversation/feedback", map[string]any{"rating": 9}); code != http.StatusBadRequest {
		t.Errorf("rating 9 = %d, want 400", code)
	}
	if len(f.gw.AppendCalls) != 0 {
		t.Error("invalid feedback reached the gateway")
	}
}

func TestVoiceAndAudio(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var e errorBody
	if code := f.do(t, f.client, http.MethodGet, "/api/audio/latest", nil, &e); code != http.StatusNotFound {
		t.Errorf("audio before start = %d, want 404", code)
	}

	f.post(t, "/api/conversation/start", nil)
	resp, err := f.client.Get(f.srv.URL + "/api/audio/latest")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(data) != "mp3" {
		t.Errorf("greeting audio = %d %q", resp.StatusCode, data)
	}
	seq := resp.Header.Get("X-Audio-Seq")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("audio", "line.webm")
	part.Write([]byte("webm-bytes"))
	mw.Close()
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/api/conversation/voice", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err = f.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var vr voiceResponse
	json.NewDecoder(resp.Body).Decode(&vr)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("voice = %d", resp.StatusCode)
	}
	if vr.Text != "Let me fix that for you" || len(vr.Session.Transcript) != 3 {
		t.Errorf("voice response = %+v", vr)
	}
	if n, _ := strconv.Atoi(seq); vr.Session.AudioSeq <= n {
		t.Errorf("audio seq = %d, greeting seq %s", vr.Session.AudioSeq, seq)
	}

	req, _ = http.NewRequest(http.MethodPost, f.srv.URL+"/api/conversation/voice", strings.NewReader("nope"))
	req.Header.Set("Content-Type", "text/plain")
	resp, _ = f.client.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("voice without form = %d, want 400", resp.StatusCode)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.post(t, "/api/conversation/start", nil)

	other := newClient(t)
	var v View
	f.do(t, other, http.MethodGet, "/api/session", nil, &v)
	if v.State != "main_menu" {
		t.Errorf("second client state = %s, want main_menu", v.State)
	}
}

func TestContentPages(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	var menu content.Menu
	if code := f.do(t, f.client, http.MethodGet, "/api/content/menu", nil, &menu); code != http.StatusOK {
		t.Fatalf("menu = %d", code)
	}
	if len(menu.ALaCarte) == 0 {
		t.Error("menu has no items")
	}
	var g content.Guidelines
	f.do(t, f.client, http.MethodGet, "/api/content/guidelines", nil, &g)
	if len(g.CustomerService) == 0 {
		t.Error("no customer service rules")
	}
	var instr map[string]string
	f.do(t, f.client, http.MethodGet, "/api/content/instructions", nil, &instr)
	if _, ok := instr["text"]; !ok {
		t.Error("instructions missing text")
	}
}

func TestPastConversations(t *testing.T) {
	t.Parallel()
	doc := persistence.TranscriptDocument{
		Turns: types.Transcript{
			{Role: types.RoleCustomer, Content: session.Greeting},
			{Role: types.RoleEmployee, Content: "Sorry!"},
		},
		Summary: "Short.",
		Scores:  coaching.NAScores(),
	}
	f := newFixture(t, func(f *fixture) {
		f.gw.ListResult = []persistence.File{{ID: "f1", Name: "conversation_2024-05-03 14-30-00.txt"}}
		f.gw.Files["f1"] = []byte(doc.String())
		f.gw.Files["raw"] = []byte("not a transcript")
	})

	var files []persistence.File
	f.do(t, f.client, http.MethodGet, "/api/conversations", nil, &files)
	if len(files) != 1 || files[0].ID != "f1" {
		t.Errorf("files = %+v", files)
	}
	if len(f.gw.ListCalls) != 1 || f.gw.ListCalls[0].FolderID != "conv" {
		t.Errorf("list calls = %+v", f.gw.ListCalls)
	}

	var got conversationResponse
	f.do(t, f.client, http.MethodGet, "/api/conversations/f1", nil, &got)
	if got.Document == nil || len(got.Document.Turns) != 2 {
		t.Errorf("parsed document = %+v", got.Document)
	}

	got = conversationResponse{}
	f.do(t, f.client, http.MethodGet, "/api/conversations/raw", nil, &got)
	if got.Content != "not a transcript" || got.Document != nil {
		t.Errorf("raw file = %+v", got)
	}

	var e errorBody
	if code := f.do(t, f.client, http.MethodGet, "/api/conversations/missing", nil, &e); code != http.StatusNotFound {
		t.Errorf("missing file = %d, want 404", code)
	}
}

func TestSearch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) {
		f.search.hits = []archive.Hit{{FileID: "f1", Name: "a.txt", Snippet: "cold fries"}}
	})

	var e errorBody
	if code := f.do(t, f.client, http.MethodGet, "/api/conversations/search", nil, &e); code != http.StatusBadRequest {
		t.Errorf("empty query = %d, want 400", code)
	}
	if code := f.do(t, f.client, http.MethodGet, "/api/conversations/search?q=fries&limit=x", nil, &e); code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", code)
	}

	var hits []archive.Hit
	if code := f.do(t, f.client, http.MethodGet, "/api/conversations/search?q=fries&limit=500", nil, &hits); code != http.StatusOK {
		t.Fatalf("search = %d", code)
	}
	if len(hits) != 1 || f.search.query != "fries" || f.search.k != maxSearchLimit {
		t.Errorf("hits = %+v query = %q k = %d", hits, f.search.query, f.search.k)
	}
}

func TestAnalytics(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(f *fixture) {
		f.gw.Rows = map[persistence.Sheet][][]string{
			persistence.SheetConversations: {
				persistence.ConversationHeader,
				{"c.txt", "2024-05-03 14-30-00", "4", "link", "2", "3", "5", "Yes", "4", "Pass", "3", "5"},
			},
		}
	})

	var d analytics.Dashboard
	if code := f.do(t, f.client, http.MethodGet, "/api/analytics", nil, &d); code != http.StatusOK {
		t.Fatalf("dashboard = %d", code)
	}
	if d.Conversations.Total != 1 {
		t.Errorf("total = %d, want 1", d.Conversations.Total)
	}

	var e errorBody
	if code := f.do(t, f.client, http.MethodGet, "/api/analytics?type=sales", nil, &e); code != http.StatusBadRequest {
		t.Errorf("unknown type = %d, want 400", code)
	}

	failing := newFixture(t, func(f *fixture) {
		f.gw.ReadErr = fmt.Errorf("sheets: %w", persistence.ErrPersistence)
	})
	if code := failing.do(t, failing.client, http.MethodGet, "/api/analytics?type=feedback", nil, &e); code != http.StatusBadGateway {
		t.Errorf("read failure = %d, want 502", code)
	}
}
