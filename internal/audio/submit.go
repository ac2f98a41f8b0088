package audio

import (
	"fmt"
	"io"

	"github.com/yegors/voice-commander/internal/pipeline"
)

// DefaultSampleRate is what capture clients record at (16 kHz mono Int16)
const DefaultSampleRate = 16000

// Submit turns one finished recording into an immutable pipeline buffer
func Submit(pcm []byte, sampleRate int) (pipeline.AudioBuffer, error) {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}
	if len(pcm)%2 != 0 {
		return pipeline.AudioBuffer{}, fmt.Errorf("odd PCM length %d for 16-bit samples", len(pcm))
	}
	return pipeline.NewAudioBuffer(pcm, sampleRate)
}

// SubmitWAV reads a WAV recording, downmixing is not performed so only mono
// files are accepted
func SubmitWAV(r io.Reader) (pipeline.AudioBuffer, error) {
	pcm, sampleRate, channels, err := DecodeWAV(r)
	if err != nil {
		return pipeline.AudioBuffer{}, err
	}
	if channels != 1 {
		return pipeline.AudioBuffer{}, fmt.Errorf("expected mono recording, got %d channels", channels)
	}
	return Submit(pcm, sampleRate)
}
