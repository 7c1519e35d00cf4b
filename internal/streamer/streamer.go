// Package streamer drives one streamed model reply: it opens the model
// stream, forwards every extracted fragment to a [protocol.Sink] as soon as
// it is parsed, and persists the reassembled assistant turn once the stream
// has drained.
//
// Every Run emits exactly one start event before any chunk and ends with
// exactly one terminal event (complete or error). A sink that fails is
// detached for the rest of the run; the model stream is still drained and
// the turn still persisted so durable history matches what the model said.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/chatrelay/internal/observe"
	"github.com/MrWong99/chatrelay/internal/protocol"
	"github.com/MrWong99/chatrelay/pkg/provider/llm"
	"github.com/MrWong99/chatrelay/pkg/stream"
	"github.com/MrWong99/chatrelay/pkg/types"
)

// Recorder persists one finished turn. [session.Session] implements it.
type Recorder interface {
	Append(ctx context.Context, msg types.Message) ([]types.Message, error)
}

// Streamer runs model turns. It holds no per-turn state and is safe for
// concurrent use; callers serialize turns per conversation.
type Streamer struct {
	llm          llm.Provider
	providerName string
	systemPrompt string
	temperature  float64
	maxTokens    int
	metrics      *observe.Metrics
}

// Option is a functional option for Streamer.
type Option func(*Streamer)

// WithSystemPrompt prepends prompt to every request.
func WithSystemPrompt(prompt string) Option {
	return func(s *Streamer) { s.systemPrompt = prompt }
}

// WithProviderName sets the provider label used in errors and metrics.
func WithProviderName(name string) Option {
	return func(s *Streamer) { s.providerName = name }
}

// WithSampling sets temperature and max tokens. Zero values keep the
// backend defaults.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(s *Streamer) {
		s.temperature = temperature
		s.maxTokens = maxTokens
	}
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Streamer) { s.metrics = m }
}

// New returns a Streamer backed by provider.
func New(provider llm.Provider, opts ...Option) *Streamer {
	s := &Streamer{llm: provider, providerName: "llm"}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

func (s *Streamer) request(history []types.Message) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: s.systemPrompt,
		Messages:     llm.TurnsFromHistory(history),
		Temperature:  s.temperature,
		MaxTokens:    s.maxTokens,
	}
}

// Run streams the model's reply to history into sink and records the
// finished assistant message with rec. The returned message is the one that
// was persisted.
func (s *Streamer) Run(ctx context.Context, history []types.Message, rec Recorder, sink protocol.Sink) (types.Message, error) {
	ctx, span := observe.StartSpan(ctx, "streamer.Run")
	defer span.End()
	log := observe.Logger(ctx)
	out := &detachingSink{sink: sink, log: log}
	start := time.Now()

	rc, err := s.llm.StreamCompletion(ctx, s.request(history))
	if err != nil {
		return types.Message{}, s.fail(ctx, span, "stream", out, &ModelInvocationError{Provider: s.providerName, Err: err})
	}
	defer rc.Close()
	s.metrics.RecordProviderRequest(ctx, s.providerName, "llm", "ok")

	id := uuid.NewString()
	span.SetAttributes(attribute.String("message.id", id))
	out.send(ctx, protocol.Start(id))

	var (
		acc       strings.Builder
		fragments int
	)
	for frag, err := range stream.Scan(rc) {
		if err != nil {
			return types.Message{}, s.fail(ctx, span, "stream", out, &ModelInvocationError{
				Provider: s.providerName,
				Err:      fmt.Errorf("read stream: %w", err),
			})
		}
		if frag == "" {
			continue
		}
		if fragments == 0 {
			s.metrics.LLMFirstFragment.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(observe.Attr("provider", s.providerName)))
		}
		fragments++
		acc.WriteString(frag)
		out.send(ctx, protocol.Chunk(id, frag))
	}
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", s.providerName)))
	s.metrics.StreamFragments.Add(ctx, int64(fragments))

	msg := types.NewMessageWithID(id, types.RoleAssistant, acc.String())
	if _, err := rec.Append(ctx, msg); err != nil {
		return types.Message{}, s.fail(ctx, span, "stream", out, &PersistenceError{Err: err})
	}

	out.send(ctx, protocol.Complete(msg))
	s.metrics.RecordTurn(ctx, "stream", "ok")
	log.Debug("streamed reply", "message_id", id, "fragments", fragments, "chars", len(msg.Content), "detached", out.detached)
	return msg, nil
}

// Complete asks the model for a whole reply without streaming and records
// it with rec.
func (s *Streamer) Complete(ctx context.Context, history []types.Message, rec Recorder) (types.Message, error) {
	ctx, span := observe.StartSpan(ctx, "streamer.Complete")
	defer span.End()
	start := time.Now()

	resp, err := s.llm.Complete(ctx, s.request(history))
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		return types.Message{}, s.fail(ctx, span, "rpc", protocol.Discard, &ModelInvocationError{Provider: s.providerName, Err: err})
	}
	s.metrics.RecordProviderRequest(ctx, s.providerName, "llm", "ok")
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("provider", s.providerName)))

	msg := types.NewMessage(types.RoleAssistant, resp.Content)
	if _, err := rec.Append(ctx, msg); err != nil {
		return types.Message{}, s.fail(ctx, span, "rpc", protocol.Discard, &PersistenceError{Err: err})
	}
	s.metrics.RecordTurn(ctx, "rpc", "ok")
	return msg, nil
}

// fail sends the terminal error event, records the failure and returns err.
func (s *Streamer) fail(ctx context.Context, span trace.Span, kind string, sink protocol.Sink, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	status := "persist_error"
	var mie *ModelInvocationError
	if errors.As(err, &mie) {
		status = "model_error"
		s.metrics.RecordProviderError(ctx, s.providerName, "llm")
	}
	s.metrics.RecordTurn(ctx, kind, status)
	observe.Logger(ctx).Error("turn failed", "kind", kind, "provider", s.providerName, "err", err)

	if sendErr := sink.Send(ctx, protocol.Error(err.Error())); sendErr != nil {
		observe.Logger(ctx).Warn("could not deliver error event", "err", sendErr)
	}
	return err
}

// detachingSink forwards events until the first failed send and drops
// everything after that.
type detachingSink struct {
	sink     protocol.Sink
	log      *slog.Logger
	detached bool
}

func (d *detachingSink) send(ctx context.Context, ev protocol.Event) {
	if d.detached {
		return
	}
	if err := d.sink.Send(ctx, ev); err != nil {
		d.detached = true
		d.log.Warn("sink detached, continuing without live delivery", "event", ev.Type, "err", err)
	}
}

// Send implements [protocol.Sink].
func (d *detachingSink) Send(ctx context.Context, ev protocol.Event) error {
	d.send(ctx, ev)
	return nil
}
