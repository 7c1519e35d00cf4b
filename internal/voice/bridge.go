// Package voice turns buffered caller audio into conversation turns and
// speaks the replies back.
//
// PCM accumulates in a capped [audio.FrameBuffer] until the caller asks for a
// transcription. The transcript then runs through the same turn path as a
// typed message, and the assistant text is synthesized and forwarded to the
// listener chunk by chunk as the TTS backend produces it.
package voice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/chatrelay/internal/observe"
	"github.com/MrWong99/chatrelay/internal/protocol"
	"github.com/MrWong99/chatrelay/pkg/audio"
	"github.com/MrWong99/chatrelay/pkg/provider/stt"
	"github.com/MrWong99/chatrelay/pkg/provider/tts"
	"github.com/MrWong99/chatrelay/pkg/types"
)

// TurnFunc runs one text turn: it records the user text, streams the reply
// to sink and returns the persisted assistant message.
type TurnFunc func(ctx context.Context, text string, sink protocol.Sink) (types.Message, error)

// AudioSink receives synthesized audio frames in playback order.
type AudioSink interface {
	SendAudio(ctx context.Context, frame []byte) error
}

// AudioSinkFunc adapts a function to [AudioSink].
type AudioSinkFunc func(ctx context.Context, frame []byte) error

// SendAudio implements [AudioSink].
func (f AudioSinkFunc) SendAudio(ctx context.Context, frame []byte) error { return f(ctx, frame) }

// Bridge owns the ingest buffer of one agent. Respond calls must not overlap;
// the owning agent serializes turns. Ingest may be called at any time.
type Bridge struct {
	buf        *audio.FrameBuffer
	stt        stt.Provider
	tts        tts.Provider
	format     audio.Format
	frameBytes int
	metrics    *observe.Metrics
}

// Option is a functional option for Bridge.
type Option func(*Bridge)

// WithBufferLimit caps the ingest buffer. See [audio.NewFrameBuffer].
func WithBufferLimit(limit int) Option {
	return func(b *Bridge) { b.buf = audio.NewFrameBuffer(limit) }
}

// WithFormat declares the PCM format of ingested audio.
func WithFormat(f audio.Format) Option {
	return func(b *Bridge) { b.format = f }
}

// WithFrameBytes bounds each outbound audio frame.
func WithFrameBytes(n int) Option {
	return func(b *Bridge) { b.frameBytes = n }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New returns a Bridge. tts may be nil, in which case replies are not spoken.
func New(s stt.Provider, t tts.Provider, opts ...Option) *Bridge {
	b := &Bridge{
		stt:        s,
		tts:        t,
		format:     stt.DefaultFormat,
		frameBytes: audio.DefaultFrameBytes,
	}
	for _, o := range opts {
		o(b)
	}
	if b.buf == nil {
		b.buf = audio.NewFrameBuffer(audio.DefaultBufferLimit)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	return b
}

// Ingest buffers one PCM chunk.
func (b *Bridge) Ingest(chunk []byte) {
	b.buf.Push(chunk)
}

// Reset discards buffered audio.
func (b *Bridge) Reset() {
	b.buf.Reset()
}

// Buffered returns the number of buffered PCM bytes.
func (b *Bridge) Buffered() int {
	return b.buf.Size()
}

// Respond transcribes the buffered audio and, if anything was said, runs a
// turn and speaks the reply to out. out may be nil when nobody is listening.
//
// An empty buffer is not an error; nothing happens. A failed transcription puts the audio back so the caller can retry, and is
// reported to sink as an error event. Whitespace-only transcripts produce no
// turn. Turn failures are returned as-is; the turn has already told sink.
func (b *Bridge) Respond(ctx context.Context, turn TurnFunc, sink protocol.Sink, out AudioSink) error {
	ctx, span := observe.StartSpan(ctx, "voice.Respond")
	defer span.End()
	log := observe.Logger(ctx)

	pcm := b.buf.Drain()
	if len(pcm) == 0 {
		log.Debug("transcribe requested with empty buffer")
		return nil
	}

	start := time.Now()
	text, err := b.stt.Transcribe(ctx, stt.Audio{PCM: pcm, Format: b.format})
	b.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		b.buf.Requeue(pcm)
		b.metrics.RecordTurn(ctx, "voice", "stt_error")
		err = fmt.Errorf("voice: transcribe: %w", err)
		if sendErr := sink.Send(ctx, protocol.Error(err.Error())); sendErr != nil {
			log.Warn("could not deliver error event", "err", sendErr)
		}
		return err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		log.Debug("empty transcription, skipping turn", "pcm_bytes", len(pcm))
		b.metrics.RecordTurn(ctx, "voice", "silent")
		return nil
	}

	msg, err := turn(ctx, text, sink)
	if err != nil {
		return err
	}
	b.metrics.RecordTurn(ctx, "voice", "ok")

	if out == nil || b.tts == nil || strings.TrimSpace(msg.Content) == "" {
		return nil
	}
	return b.speak(ctx, msg.Content, out)
}

func (b *Bridge) speak(ctx context.Context, text string, out AudioSink) error {
	start := time.Now()
	ch, err := b.tts.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("voice: synthesize: %w", err)
	}
	defer func() {
		b.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}()

	var sent int64
	defer func() {
		b.metrics.AudioBytesSent.Add(ctx, sent, metric.WithAttributes(observe.Attr("kind", "tts")))
	}()
	for chunk := range ch {
		for _, frame := range audio.SplitFrames(chunk, b.frameBytes) {
			if err := out.SendAudio(ctx, frame); err != nil {
				audio.Drain(ch)
				return fmt.Errorf("voice: forward audio: %w", err)
			}
			sent += int64(len(frame))
		}
	}
	return nil
}
