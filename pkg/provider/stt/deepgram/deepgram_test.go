package deepgram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/burgerxpress/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	t.Parallel()
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.Options{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "host", "api.deepgram.com", u.Host)
	assertEqual(t, "path", "/v1/listen", u.Path)
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "smart_format", "true", q.Get("smart_format"))
}

func TestBuildURL_Terms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		param string
	}{
		{"nova-3", "keyterm"},
		{"nova-2", "keywords"},
	}
	for _, tc := range tests {
		p, _ := New("key", WithModel(tc.model), WithLanguage("de-DE"))
		rawURL, err := p.buildURL(stt.Options{Prompt: "Big Stack, Curly Fries, "})
		if err != nil {
			t.Fatalf("buildURL: %v", err)
		}
		u, _ := url.Parse(rawURL)
		q := u.Query()
		assertEqual(t, "language", "de-DE", q.Get("language"))
		got := q[tc.param]
		if len(got) != 2 || got[0] != "Big Stack" || got[1] != "Curly Fries" {
			t.Errorf("%s: %s = %v", tc.model, tc.param, got)
		}
	}
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

// ---- HTTP round trip ----

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var (
		gotAuth, gotType, gotLang string
		gotBody                   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotLang = r.URL.Query().Get("language")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"metadata":{"duration":1.5},"results":{"channels":[{"alternatives":[{"transcript":" one big stack please ","confidence":0.97}]}]}}`)
	}))
	t.Cleanup(srv.Close)

	p, _ := New("dg-key", WithBaseURL(srv.URL+"/"))
	rec, err := p.Transcribe(context.Background(), stt.Audio{Data: []byte("webm"), MIMEType: "audio/webm;codecs=opus"}, stt.Options{Language: "en-US"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	assertEqual(t, "text", "one big stack please", rec.Text)
	assertEqual(t, "auth", "Token dg-key", gotAuth)
	assertEqual(t, "content-type", "audio/webm", gotType)
	assertEqual(t, "language", "en-US", gotLang)
	assertEqual(t, "body", "webm", string(gotBody))
	if rec.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v", rec.Duration)
	}
}

func TestTranscribe_PCMIsWrapped(t *testing.T) {
	t.Parallel()

	var gotType, magic string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		if len(b) >= 4 {
			magic = string(b[:4])
		}
		io.WriteString(w, `{"results":{"channels":[{"alternatives":[]}]}}`)
	}))
	t.Cleanup(srv.Close)

	p, _ := New("k", WithBaseURL(srv.URL))
	rec, err := p.Transcribe(context.Background(), stt.Audio{Data: make([]byte, 320), MIMEType: stt.MIMETypePCM, SampleRate: 16000, Channels: 1}, stt.Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "content-type", "audio/wav", gotType)
	assertEqual(t, "magic", "RIFF", magic)
	assertEqual(t, "text", "", rec.Text)
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	p, _ := New("bad", WithBaseURL(srv.URL))

	if _, err := p.Transcribe(context.Background(), stt.Audio{}, stt.Options{}); err == nil {
		t.Error("expected error for empty audio")
	}
	_, err := p.Transcribe(context.Background(), stt.Audio{Data: []byte("x"), MIMEType: "audio/webm"}, stt.Options{})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err = %v, want status 401", err)
	}
}

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
