package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
	"go.uber.org/zap/zaptest"

	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/pkg/logger"
)

func newTestRecognizer(t *testing.T, handler http.HandlerFunc) *OpenAIRecognizer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOpenAIRecognizer(
		Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1/", Model: "whisper-1"},
		logger.Wrap(zaptest.NewLogger(t)),
		option.WithMaxRetries(0),
	)
}

func testBuffer(t *testing.T) pipeline.AudioBuffer {
	t.Helper()
	buf, err := pipeline.NewAudioBuffer(make([]byte, 640), 16000)
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestRecognizeSendsWAVAndLanguage(t *testing.T) {
	r := newTestRecognizer(t, func(w http.ResponseWriter, req *http.Request) {
		if !strings.HasSuffix(req.URL.Path, "/audio/transcriptions") {
			t.Errorf("path = %s", req.URL.Path)
		}
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
			return
		}
		if got := req.FormValue("language"); got != "de" {
			t.Errorf("language = %q", got)
		}
		f, hdr, err := req.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if !strings.HasPrefix(string(data), "RIFF") {
			t.Errorf("upload is not WAV (%s)", hdr.Filename)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text": " Hebe den Würfel auf "}`)
	})

	text, err := r.Recognize(context.Background(), testBuffer(t), "de")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if text != "Hebe den Würfel auf" {
		t.Errorf("text = %q", text)
	}
}

func TestRecognizeErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"empty transcript", http.StatusOK, `{"text": ""}`, pipeline.ErrRecognitionUnavailable},
		{"bad audio", http.StatusBadRequest, `{"error": {"message": "could not decode"}}`, pipeline.ErrRecognitionAmbiguous},
		{"server down", http.StatusServiceUnavailable, `{"error": {"message": "overloaded"}}`, pipeline.ErrRecognitionUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRecognizer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := r.Recognize(context.Background(), testBuffer(t), "de")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRecognizeWithoutKey(t *testing.T) {
	r := NewOpenAIRecognizer(Config{Model: "whisper-1"}, logger.NewNop())
	if _, err := r.Recognize(context.Background(), testBuffer(t), "de"); !errors.Is(err, pipeline.ErrRecognitionUnavailable) {
		t.Errorf("err = %v", err)
	}
}
