package speech

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/yegors/voice-commander/internal/audio"
	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/pkg/logger"
)

// Config configures the OpenAI recognizer
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Prompt  string // optional vocabulary hint
}

// OpenAIRecognizer transcribes utterances with the OpenAI audio API
type OpenAIRecognizer struct {
	client openai.Client
	config Config
	logger *logger.Logger
}

// Ensure the recognizer satisfies the pipeline contract
var _ pipeline.Recognizer = (*OpenAIRecognizer)(nil)

// NewOpenAIRecognizer creates a recognizer. Extra request options (timeouts,
// retries, test transports) are appended after the credentials.
func NewOpenAIRecognizer(config Config, log *logger.Logger, opts ...option.RequestOption) *OpenAIRecognizer {
	if config.APIKey == "" {
		log.Warn("OpenAI API key is empty - speech recognition will not work")
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(config.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAIRecognizer{
		client: openai.NewClient(clientOpts...),
		config: config,
		logger: log.Named("speech-openai"),
	}
}

// wavUpload names the multipart part so the API can sniff the container
type wavUpload struct {
	*bytes.Reader
}

func (wavUpload) Filename() string    { return "utterance.wav" }
func (wavUpload) Name() string        { return "utterance.wav" }
func (wavUpload) ContentType() string { return "audio/wav" }

// Recognize uploads the utterance as WAV and returns the transcript
func (r *OpenAIRecognizer) Recognize(ctx context.Context, buf pipeline.AudioBuffer, lang string) (string, error) {
	if r.config.APIKey == "" {
		return "", pipeline.Errorf(pipeline.KindRecognitionUnavailable, "OpenAI API key is not configured")
	}

	wav := audio.EncodeWAV(buf.Bytes(), buf.SampleRate, buf.Channels)

	params := openai.AudioTranscriptionNewParams{
		File:     wavUpload{bytes.NewReader(wav)},
		Model:    openai.AudioModel(r.config.Model),
		Language: openai.String(lang),
	}
	if r.config.Prompt != "" {
		params.Prompt = openai.String(r.config.Prompt)
	}

	r.logger.Debug("Requesting transcription",
		logger.String("model", r.config.Model),
		logger.String("language", lang),
		logger.Int("wav_bytes", len(wav)),
		logger.Duration("audio_duration", buf.Duration()))

	resp, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", classifyError(err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", pipeline.Errorf(pipeline.KindRecognitionUnavailable, "no speech detected")
	}

	r.logger.Debug("Transcription received", logger.String("text", text))
	return text, nil
}

// classifyError maps API failures onto the recognition error kinds. A 400
// means the provider received the audio but could not make sense of it.
func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		status := strconv.Itoa(apiErr.StatusCode)
		if apiErr.StatusCode == http.StatusBadRequest {
			return pipeline.ErrRecognitionAmbiguous.WithStatus(status).Wrap(err)
		}
		return pipeline.ErrRecognitionUnavailable.WithStatus(status).Wrap(err)
	}
	return pipeline.ErrRecognitionUnavailable.Wrap(err)
}
