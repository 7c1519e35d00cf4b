package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// DoneFrame terminates every stream produced by PipeFrames.
const DoneFrame = "data: [DONE]\n\n"

// EmitFunc forwards one decoded text delta into a framed stream.
type EmitFunc func(text string) error

// ProduceFunc drives an SDK stream and calls emit for every text delta. A
// returned error is surfaced to the reader of the framed stream.
type ProduceFunc func(ctx context.Context, emit EmitFunc) error

type frame struct {
	Choices [1]frameChoice `json:"choices"`
}

type frameChoice struct {
	Delta frameDelta `json:"delta"`
}

type frameDelta struct {
	Content string `json:"content"`
}

// WriteFrame writes text as a single OpenAI-style SSE delta frame.
func WriteFrame(w io.Writer, text string) error {
	var f frame
	f.Choices[0].Delta.Content = text
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("llm: encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return nil
}

// PipeFrames runs produce in its own goroutine and returns a reader over the
// SSE frames it emits. SDK-backed providers use it to present decoded deltas
// in the same byte framing as raw HTTP backends.
//
// Closing the returned reader aborts the producer at its next emit.
func PipeFrames(ctx context.Context, produce ProduceFunc) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		err := produce(ctx, func(text string) error {
			return WriteFrame(pw, text)
		})
		if err == nil {
			_, err = io.WriteString(pw, DoneFrame)
		}
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.Close()
	}()
	return pr
}
