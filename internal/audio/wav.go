package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVHeader represents a canonical 44-byte PCM WAV header
type WAVHeader struct {
	// RIFF chunk descriptor
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32  // 4 + (8 + SubChunk1Size) + (8 + SubChunk2Size)
	Format    [4]byte // "WAVE"

	// "fmt " sub-chunk
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // 1 for mono, 2 for stereo
	SampleRate    uint32  // 8000, 16000, 44100, etc.
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16  // NumChannels * BitsPerSample/8
	BitsPerSample uint16  // 8, 16, etc.

	// "data" sub-chunk
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // NumSamples * NumChannels * BitsPerSample/8
}

const wavHeaderSize = 44

// newWAVHeader describes a 16-bit PCM payload of dataSize bytes
func newWAVHeader(sampleRate, channels, dataSize int) WAVHeader {
	bitsPerSample := uint16(16)

	return WAVHeader{
		ChunkID:   [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize: uint32(36 + dataSize),
		Format:    [4]byte{'W', 'A', 'V', 'E'},

		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * int(bitsPerSample/8)),
		BlockAlign:    uint16(channels * int(bitsPerSample/8)),
		BitsPerSample: bitsPerSample,

		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

// EncodeWAV wraps raw 16-bit little-endian PCM in a WAV container so
// speech providers can detect the format
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	header := newWAVHeader(sampleRate, channels, len(pcm))

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	// Writes to a bytes.Buffer cannot fail
	_ = binary.Write(buf, binary.LittleEndian, header)
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV reads a PCM WAV stream and returns its samples. Chunks other
// than "fmt " and "data" (LIST, fact, ...) are skipped.
func DecodeWAV(r io.Reader) (pcm []byte, sampleRate, channels int, err error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("not a RIFF/WAVE stream")
	}

	var (
		haveFormat    bool
		bitsPerSample uint16
	)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return nil, 0, 0, fmt.Errorf("failed to read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size > 1024 {
				return nil, 0, 0, fmt.Errorf("fmt chunk too large: %d bytes", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, 0, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if size < 16 {
				return nil, 0, 0, fmt.Errorf("fmt chunk too short: %d bytes", size)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return nil, 0, 0, fmt.Errorf("unsupported audio format %d, only PCM is supported", format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			haveFormat = true
		case "data":
			if !haveFormat {
				return nil, 0, 0, errors.New("data chunk before fmt chunk")
			}
			if bitsPerSample != 16 {
				return nil, 0, 0, fmt.Errorf("unsupported bits per sample: %d", bitsPerSample)
			}
			// Streamed recordings often carry a placeholder size, so a short
			// data chunk is accepted
			pcm, err = io.ReadAll(io.LimitReader(r, int64(size)))
			if err != nil {
				return nil, 0, 0, fmt.Errorf("failed to read data chunk: %w", err)
			}
			return pcm, sampleRate, channels, nil
		default:
			skip := int64(size) + int64(size%2)
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, 0, 0, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}
