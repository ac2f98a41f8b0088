package translate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/pkg/logger"
)

// OpenAITranslator translates short robot commands with a chat model
type OpenAITranslator struct {
	client openai.Client
	model  string
	apiKey string
	logger *logger.Logger
}

var _ pipeline.Translator = (*OpenAITranslator)(nil)

// NewOpenAITranslator creates a chat-completion based translator
func NewOpenAITranslator(config Config, log *logger.Logger, opts ...option.RequestOption) *OpenAITranslator {
	clientOpts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(config.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAITranslator{
		client: openai.NewClient(clientOpts...),
		model:  config.Model,
		apiKey: config.APIKey,
		logger: log.Named("translate-openai"),
	}
}

func systemPrompt(from, to string) string {
	return fmt.Sprintf(
		"You translate spoken %s robot commands into %s. "+
			"Reply with the translated command only, no quotes, no explanations.",
		languageName(from), languageName(to))
}

// Translate returns the translated command
func (t *OpenAITranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	if t.apiKey == "" {
		return "", pipeline.Errorf(pipeline.KindTranslationFailed, "OpenAI API key is not configured")
	}

	t.logger.Debug("Requesting translation",
		logger.String("model", t.model),
		logger.String("from", from),
		logger.String("to", to))

	completion, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(t.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(from, to)),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", pipeline.ErrTranslationFailed.WithStatus(strconv.Itoa(apiErr.StatusCode)).Wrap(err)
		}
		return "", pipeline.ErrTranslationFailed.Wrap(err)
	}
	if len(completion.Choices) == 0 {
		return "", pipeline.Errorf(pipeline.KindTranslationFailed, "no choices returned")
	}

	translated := strings.Trim(strings.TrimSpace(completion.Choices[0].Message.Content), `"`)
	t.logger.Debug("Translation received", logger.String("text", translated))
	return translated, nil
}
