package audio

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"layeh.com/gopus"
)

const (
	// opusFrameMs is the Opus frame length used for recordings.
	opusFrameMs = 20

	// opusGranuleRate is the fixed granule clock of Ogg Opus streams.
	opusGranuleRate = 48000

	// opusPreSkip is the encoder lookahead in 48 kHz samples that decoders
	// must discard (libopus default of 6.5 ms).
	opusPreSkip = 312

	// opusMaxPacket bounds a single encoded packet.
	opusMaxPacket = 4000

	// opusPacketsPerPage groups one second of audio per Ogg page.
	opusPacketsPerPage = 1000 / opusFrameMs

	opusVendor = "vocascan"
)

// opusRates lists the sample rates libopus accepts natively.
var opusRates = map[int]bool{8000: true, 12000: true, 16000: true, 24000: true, 48000: true}

// OpusEncoder compresses a session recording with Opus and muxes it into an
// Ogg container ("audio/ogg; codecs=opus").
type OpusEncoder struct {
	conv      Converter
	enc       *gopus.Encoder
	ogg       *oggWriter
	frameSize int // samples per channel per Opus frame

	pending   []int16
	granule   int64
	samples   int64 // samples per channel consumed from input
	finalized bool
}

// NewOpusEncoder returns an encoder producing Ogg Opus at format f. The
// sample rate must be one libopus supports (8, 12, 16, 24 or 48 kHz) and the
// layout mono or stereo.
func NewOpusEncoder(f Format) (*OpusEncoder, error) {
	if !opusRates[f.SampleRate] {
		return nil, fmt.Errorf("audio: opus does not support %d Hz", f.SampleRate)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return nil, fmt.Errorf("audio: opus supports mono or stereo, got %d channels", f.Channels)
	}
	enc, err := gopus.NewEncoder(f.SampleRate, f.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}
	e := &OpusEncoder{
		conv:      Converter{Target: f},
		enc:       enc,
		ogg:       newOggWriter(rand.Uint32()),
		frameSize: f.SampleRate * opusFrameMs / 1000,
	}
	e.writeHeaders()
	return e, nil
}

func (e *OpusEncoder) writeHeaders() {
	f := e.conv.Target

	head := make([]byte, 19)
	copy(head[0:8], "OpusHead")
	head[8] = 1 // version
	head[9] = byte(f.Channels)
	binary.LittleEndian.PutUint16(head[10:12], opusPreSkip)
	binary.LittleEndian.PutUint32(head[12:16], uint32(f.SampleRate))
	binary.LittleEndian.PutUint16(head[16:18], 0) // output gain
	head[18] = 0                                  // channel mapping family
	e.ogg.writePage([][]byte{head}, oggFlagBOS, 0)

	tags := make([]byte, 8+4+len(opusVendor)+4)
	copy(tags[0:8], "OpusTags")
	binary.LittleEndian.PutUint32(tags[8:12], uint32(len(opusVendor)))
	copy(tags[12:], opusVendor)
	binary.LittleEndian.PutUint32(tags[12+len(opusVendor):], 0) // no user comments
	e.ogg.writePage([][]byte{tags}, 0, 0)
}

// Write implements [Encoder].
func (e *OpusEncoder) Write(frame AudioFrame) error {
	if e.finalized {
		return fmt.Errorf("audio: opus write after finalize")
	}
	out := e.conv.Convert(frame)
	if len(out.Data) == 0 {
		return nil
	}
	e.pending = append(e.pending, Int16s(out.Data)...)
	e.samples += int64(len(out.Data) / (BytesPerSample * e.conv.Target.Channels))

	step := e.frameSize * e.conv.Target.Channels
	for len(e.pending) >= step {
		if err := e.encodeFrame(e.pending[:step]); err != nil {
			return err
		}
		e.pending = e.pending[step:]
	}
	return nil
}

func (e *OpusEncoder) encodeFrame(pcm []int16) error {
	packet, err := e.enc.Encode(pcm, e.frameSize, opusMaxPacket)
	if err != nil {
		return fmt.Errorf("audio: opus encode: %w", err)
	}
	e.granule += int64(e.frameSize) * opusGranuleRate / int64(e.conv.Target.SampleRate)
	// gopus reuses its output buffer between calls.
	e.ogg.addPacket(append([]byte(nil), packet...), e.granule, opusPacketsPerPage)
	return nil
}

// Finalize implements [Encoder]. The tail is zero-padded; the final granule
// position tells decoders where the real audio ends.
func (e *OpusEncoder) Finalize() (Payload, error) {
	if e.finalized {
		return Payload{}, fmt.Errorf("audio: opus finalize called twice")
	}
	e.finalized = true
	f := e.conv.Target
	p := Payload{MIMEType: "audio/ogg; codecs=opus", Format: f}
	if e.samples == 0 {
		return p, nil
	}

	end := opusPreSkip + e.samples*opusGranuleRate/int64(f.SampleRate)

	// Pad the trailing partial frame, then keep feeding silence until the
	// encoder lookahead is flushed and every input sample is decodable.
	step := e.frameSize * f.Channels
	for len(e.pending) > 0 || e.granule < end {
		frame := make([]int16, step)
		n := copy(frame, e.pending)
		e.pending = e.pending[n:]
		if err := e.encodeFrame(frame); err != nil {
			return Payload{}, err
		}
	}

	e.ogg.flush(oggFlagEOS, end)

	p.Data = e.ogg.out.Bytes()
	p.Duration = f.Duration(int(e.samples) * BytesPerSample * f.Channels)
	return p, nil
}
