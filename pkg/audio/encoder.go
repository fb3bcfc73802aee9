package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// Encoding selects the container/codec used for session recordings.
type Encoding string

const (
	// EncodingWAV stores uncompressed 16-bit PCM in a RIFF/WAV container.
	EncodingWAV Encoding = "wav"

	// EncodingOpus stores Opus packets in an Ogg container.
	EncodingOpus Encoding = "opus"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingWAV || e == EncodingOpus
}

// Payload is a finished, self-contained recording.
type Payload struct {
	// Data is the encoded file. Nil when nothing was captured.
	Data []byte

	// MIMEType describes Data (e.g. "audio/wav").
	MIMEType string

	// Format is the PCM format that was encoded.
	Format Format

	// Duration is the length of the captured audio.
	Duration time.Duration
}

// Empty reports whether the payload holds no audio.
func (p Payload) Empty() bool { return len(p.Data) == 0 }

// Encoder accumulates PCM frames of one session into a single payload.
// Encoders are used from a single goroutine and are not safe for concurrent use.
type Encoder interface {
	// Write appends frame to the recording, converting it to the encoder's
	// format if needed.
	Write(frame AudioFrame) error

	// Finalize flushes buffered audio and returns the payload. When no audio
	// was written it returns an empty payload and a nil error. Writes after
	// Finalize return an error.
	Finalize() (Payload, error)
}

// NewEncoder returns an encoder for enc producing audio in format f.
func NewEncoder(enc Encoding, f Format) (Encoder, error) {
	if !f.Valid() {
		return nil, fmt.Errorf("audio: invalid encoder format %s", f)
	}
	switch enc {
	case EncodingWAV, "":
		return NewWAVEncoder(f), nil
	case EncodingOpus:
		return NewOpusEncoder(f)
	default:
		return nil, fmt.Errorf("audio: unknown encoding %q", enc)
	}
}

// WAVEncoder buffers PCM in memory and wraps it in a RIFF/WAV header on
// Finalize.
type WAVEncoder struct {
	conv      Converter
	pcm       bytes.Buffer
	finalized bool
}

// NewWAVEncoder returns a WAV encoder producing audio in format f.
func NewWAVEncoder(f Format) *WAVEncoder {
	return &WAVEncoder{conv: Converter{Target: f}}
}

// Write implements [Encoder].
func (e *WAVEncoder) Write(frame AudioFrame) error {
	if e.finalized {
		return fmt.Errorf("audio: wav write after finalize")
	}
	out := e.conv.Convert(frame)
	e.pcm.Write(out.Data)
	return nil
}

// Finalize implements [Encoder].
func (e *WAVEncoder) Finalize() (Payload, error) {
	e.finalized = true
	f := e.conv.Target
	p := Payload{MIMEType: "audio/wav", Format: f}
	if e.pcm.Len() == 0 {
		return p, nil
	}
	p.Data = EncodeWAV(e.pcm.Bytes(), f)
	p.Duration = f.Duration(e.pcm.Len())
	e.pcm.Reset()
	return p, nil
}

// EncodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte RIFF/WAV
// header.
func EncodeWAV(pcm []byte, f Format) []byte {
	const bitsPerSample = BytesPerSample * 8
	dataSize := len(pcm)
	buf := make([]byte, 44+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.BytesPerSecond()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(f.Channels*BytesPerSample))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}
