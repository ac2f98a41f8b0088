package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go/option"

	"github.com/yegors/voice-commander/internal/config"
	"github.com/yegors/voice-commander/internal/delivery"
	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/internal/speech"
	"github.com/yegors/voice-commander/internal/translate"
	"github.com/yegors/voice-commander/pkg/logger"
)

// loadConfig reads the config file and builds the logger. Logs go to stderr
// so command output on stdout stays clean.
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	cfg.Logging.Output = os.Stderr

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

// newController wires the OpenAI/Google adapters and the delivery client
// into a running controller
func newController(ctx context.Context, cfg *config.Config, snapshots pipeline.SnapshotSource, log *logger.Logger) (*pipeline.Controller, error) {
	openaiOpts := []option.RequestOption{
		option.WithRequestTimeout(cfg.OpenAITimeout()),
		option.WithMaxRetries(cfg.OpenAI.MaxRetries),
	}

	recognizer := speech.NewOpenAIRecognizer(speech.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.Speech.Model,
		Prompt:  cfg.Speech.Prompt,
	}, log, openaiOpts...)

	translator, err := translate.New(translate.Config{
		Provider:  cfg.Translation.Provider,
		APIKey:    cfg.OpenAI.APIKey,
		BaseURL:   cfg.OpenAI.BaseURL,
		Model:     cfg.Translation.Model,
		GoogleURL: cfg.Translation.GoogleURL,
		Timeout:   cfg.OpenAITimeout(),
	}, log, openaiOpts...)
	if err != nil {
		return nil, err
	}

	deliverer := delivery.NewClient(cfg.DeliveryTimeout(), cfg.Delivery.UserAgent, log)

	return pipeline.NewController(ctx, recognizer, translator, deliverer, snapshots, cfg.PipelineConfig(), log)
}
