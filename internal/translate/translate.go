package translate

import (
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/option"

	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/pkg/logger"
)

// Config selects and configures a translation backend
type Config struct {
	Provider  string // openai, google
	APIKey    string
	BaseURL   string
	Model     string
	GoogleURL string
	Timeout   time.Duration // Google requests; OpenAI takes request options
}

// New returns the translator for the configured provider. opts only apply
// to the OpenAI provider.
func New(config Config, log *logger.Logger, opts ...option.RequestOption) (pipeline.Translator, error) {
	switch config.Provider {
	case "openai":
		return NewOpenAITranslator(config, log, opts...), nil
	case "google":
		var httpClient *http.Client
		if config.Timeout > 0 {
			httpClient = &http.Client{Timeout: config.Timeout}
		}
		return NewGoogleTranslator(config.GoogleURL, httpClient, log), nil
	default:
		return nil, fmt.Errorf("unsupported translation provider: %q", config.Provider)
	}
}

var languageNames = map[string]string{
	"de": "German",
	"en": "English",
	"fr": "French",
	"es": "Spanish",
	"it": "Italian",
	"nl": "Dutch",
}

func languageName(tag string) string {
	if name, ok := languageNames[tag]; ok {
		return name
	}
	return tag
}
