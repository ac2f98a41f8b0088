package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TransactionID identifies a transaction within one process run
type TransactionID uint64

// AudioBuffer is one recorded utterance as raw little-endian PCM
type AudioBuffer struct {
	data        []byte
	SampleRate  int
	Channels    int
	SampleWidth int // bytes per sample
	CapturedAt  time.Time
}

// NewAudioBuffer copies pcm so later writes by the capture side cannot
// leak into a running transaction. Mono 16-bit is assumed.
func NewAudioBuffer(pcm []byte, sampleRate int) (AudioBuffer, error) {
	if len(pcm) == 0 {
		return AudioBuffer{}, errors.New("audio buffer is empty")
	}
	if sampleRate <= 0 {
		return AudioBuffer{}, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	data := make([]byte, len(pcm))
	copy(data, pcm)
	return AudioBuffer{
		data:        data,
		SampleRate:  sampleRate,
		Channels:    1,
		SampleWidth: 2,
		CapturedAt:  time.Now().UTC(),
	}, nil
}

// Bytes returns the PCM payload. Callers must not modify it.
func (a AudioBuffer) Bytes() []byte { return a.data }

// Len returns the payload size in bytes
func (a AudioBuffer) Len() int { return len(a.data) }

// Duration of the recording
func (a AudioBuffer) Duration() time.Duration {
	bytesPerSecond := a.SampleRate * a.Channels * a.SampleWidth
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(len(a.data)) * time.Second / time.Duration(bytesPerSecond)
}

// Snapshot is an immutable view of the delivery settings
type Snapshot struct {
	EndpointURL     string `json:"endpoint_url"`
	DeliveryEnabled bool   `json:"send_commands"`
}

// SnapshotSource hands out the current settings snapshot
type SnapshotSource interface {
	Snapshot() Snapshot
}

// StaticSnapshot is a SnapshotSource that never changes
type StaticSnapshot Snapshot

func (s StaticSnapshot) Snapshot() Snapshot { return Snapshot(s) }

// DeliveryAck is the remote acknowledgement of a delivered command
type DeliveryAck struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body,omitempty"`
}

// Recognizer turns speech into text in the given language
type Recognizer interface {
	Recognize(ctx context.Context, audio AudioBuffer, lang string) (string, error)
}

// Translator translates text between two languages
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Deliverer sends a command to the configured endpoint
type Deliverer interface {
	Deliver(ctx context.Context, endpointURL, command string) (DeliveryAck, error)
}

// RecognizerFunc adapts a function to Recognizer
type RecognizerFunc func(ctx context.Context, audio AudioBuffer, lang string) (string, error)

func (f RecognizerFunc) Recognize(ctx context.Context, audio AudioBuffer, lang string) (string, error) {
	return f(ctx, audio, lang)
}

// TranslatorFunc adapts a function to Translator
type TranslatorFunc func(ctx context.Context, text, from, to string) (string, error)

func (f TranslatorFunc) Translate(ctx context.Context, text, from, to string) (string, error) {
	return f(ctx, text, from, to)
}

// DelivererFunc adapts a function to Deliverer
type DelivererFunc func(ctx context.Context, endpointURL, command string) (DeliveryAck, error)

func (f DelivererFunc) Deliver(ctx context.Context, endpointURL, command string) (DeliveryAck, error) {
	return f(ctx, endpointURL, command)
}
