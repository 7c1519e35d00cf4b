package llm_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/MrWong99/chatrelay/pkg/provider/llm"
	"github.com/MrWong99/chatrelay/pkg/stream"
	"github.com/MrWong99/chatrelay/pkg/types"
)

func TestPipeFrames_RoundTrip(t *testing.T) {
	t.Parallel()

	rc := llm.PipeFrames(context.Background(), func(_ context.Context, emit llm.EmitFunc) error {
		for _, s := range []string{"Hello", ", ", "line\nbreak", ""} {
			if err := emit(s); err != nil {
				return err
			}
		}
		return nil
	})
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !strings.HasSuffix(string(raw), llm.DoneFrame) {
		t.Errorf("stream does not end with done frame: %q", raw)
	}

	var got strings.Builder
	for frag, err := range stream.Scan(strings.NewReader(string(raw))) {
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		got.WriteString(frag)
	}
	if got.String() != "Hello, line\nbreak" {
		t.Errorf("decoded = %q", got.String())
	}
}

func TestPipeFrames_ProducerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("upstream dropped")
	rc := llm.PipeFrames(context.Background(), func(_ context.Context, emit llm.EmitFunc) error {
		if err := emit("partial"); err != nil {
			return err
		}
		return boom
	})
	defer rc.Close()

	_, err := io.ReadAll(rc)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestPipeFrames_ReaderClosedStopsProducer(t *testing.T) {
	t.Parallel()

	done := make(chan error, 1)
	rc := llm.PipeFrames(context.Background(), func(_ context.Context, emit llm.EmitFunc) error {
		var err error
		for err == nil {
			err = emit("x")
		}
		done <- err
		return err
	})
	rc.Close()

	if err := <-done; !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("producer err = %v, want io.ErrClosedPipe", err)
	}
}

func TestTurnsFromHistory(t *testing.T) {
	t.Parallel()

	history := []types.Message{
		types.NewMessage(types.RoleUser, "hi"),
		types.NewMessage(types.RoleAssistant, "hello"),
	}
	turns := llm.TurnsFromHistory(history)
	if len(turns) != 2 {
		t.Fatalf("len = %d, want 2", len(turns))
	}
	if turns[0].Role != types.RoleUser || turns[0].Content != "hi" {
		t.Errorf("turns[0] = %+v", turns[0])
	}
	if turns[1].Role != types.RoleAssistant || turns[1].Content != "hello" {
		t.Errorf("turns[1] = %+v", turns[1])
	}
}
