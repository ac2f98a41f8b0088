package translate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/pkg/logger"
)

// GoogleTranslator uses the keyless Google Translate web endpoint
type GoogleTranslator struct {
	endpoint   string
	httpClient *http.Client
	logger     *logger.Logger
}

var _ pipeline.Translator = (*GoogleTranslator)(nil)

// NewGoogleTranslator creates a translator. A nil client gets a 10 second
// timeout.
func NewGoogleTranslator(endpoint string, httpClient *http.Client, log *logger.Logger) *GoogleTranslator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleTranslator{
		endpoint:   endpoint,
		httpClient: httpClient,
		logger:     log.Named("translate-google"),
	}
}

// Translate returns the translated text. The response is a nested JSON array
// whose first element lists [translated, original, ...] per sentence.
func (g *GoogleTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	query := url.Values{}
	query.Set("client", "gtx")
	query.Set("sl", from)
	query.Set("tl", to)
	query.Set("dt", "t")
	query.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", pipeline.ErrTranslationFailed.Wrap(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", pipeline.ErrTranslationFailed.Wrap(fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", pipeline.ErrTranslationFailed.Wrap(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("Translation request failed",
			logger.Int("status_code", resp.StatusCode),
			logger.String("response_body", truncate(string(body), 200)))
		return "", pipeline.Errorf(pipeline.KindTranslationFailed, "unexpected status code").
			WithStatus(strconv.Itoa(resp.StatusCode))
	}

	if !gjson.ValidBytes(body) {
		return "", pipeline.Errorf(pipeline.KindTranslationFailed, "malformed response")
	}

	var sb strings.Builder
	gjson.GetBytes(body, "0").ForEach(func(_, sentence gjson.Result) bool {
		sb.WriteString(sentence.Get("0").String())
		return true
	})

	translated := strings.TrimSpace(sb.String())
	if translated == "" {
		return "", pipeline.Errorf(pipeline.KindTranslationFailed, "empty translation")
	}
	return translated, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
