package translate

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/pkg/logger"
)

func TestGoogleTranslateJoinsSentences(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("sl") != "de" || q.Get("tl") != "en" || q.Get("q") != "Hebe den Würfel auf. Dann stopp." {
			t.Errorf("query = %v", q)
		}
		_, _ = io.WriteString(w, `[[["Pick up the cube. ","Hebe den Würfel auf.",null,null,10],["Then stop.","Dann stopp.",null,null,10]],null,"de"]`)
	}))
	defer srv.Close()

	g := NewGoogleTranslator(srv.URL, srv.Client(), logger.Wrap(zaptest.NewLogger(t)))
	got, err := g.Translate(context.Background(), "Hebe den Würfel auf. Dann stopp.", "de", "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "Pick up the cube. Then stop." {
		t.Errorf("got %q", got)
	}
}

func TestGoogleTranslateFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus string
	}{
		{"rate limited", http.StatusTooManyRequests, "slow down", "429"},
		{"garbage", http.StatusOK, "<html>", ""},
		{"empty", http.StatusOK, `[[],null,"de"]`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			g := NewGoogleTranslator(srv.URL, srv.Client(), logger.Wrap(zaptest.NewLogger(t)))
			_, err := g.Translate(context.Background(), "Hallo", "de", "en")
			if !errors.Is(err, pipeline.ErrTranslationFailed) {
				t.Fatalf("err = %v, want TranslationFailed", err)
			}
			var perr *pipeline.Error
			if errors.As(err, &perr) && perr.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", perr.Status, tt.wantStatus)
			}
		})
	}
}

func TestNewSelectsProvider(t *testing.T) {
	log := logger.NewNop()
	if tr, err := New(Config{Provider: "google", GoogleURL: "http://localhost"}, log); err != nil {
		t.Errorf("google: %v", err)
	} else if _, ok := tr.(*GoogleTranslator); !ok {
		t.Errorf("google provider returned %T", tr)
	}
	if tr, err := New(Config{Provider: "openai", Model: "gpt-4o-mini"}, log); err != nil {
		t.Errorf("openai: %v", err)
	} else if _, ok := tr.(*OpenAITranslator); !ok {
		t.Errorf("openai provider returned %T", tr)
	}
	if _, err := New(Config{Provider: "deepl"}, log); err == nil {
		t.Error("expected error for unknown provider")
	}
}
