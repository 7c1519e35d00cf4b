package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/MrWong99/chatrelay/pkg/types"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantType string
		wantText string
		wantErr  bool
	}{
		{"message", `{"type":"message","message":"hi","messageId":"m1"}`, TypeMessage, "hi", false},
		{"content alias", `{"type":"message","content":"hey"}`, TypeMessage, "hey", false},
		{"empty message", `{"type":"message","message":"   "}`, "", "", true},
		{"audio ingest", `{"type":"audio_connection","adapterType":"ingest"}`, TypeAudioConnection, "", false},
		{"audio bad adapter", `{"type":"audio_connection","adapterType":"sideways"}`, "", "", true},
		{"transcribe", `{"type":"transcribe"}`, TypeTranscribe, "", false},
		{"reset", `{"type":"reset_audio"}`, TypeResetAudio, "", false},
		{"unknown type", `{"type":"dance"}`, "", "", true},
		{"missing type", `{"message":"hi"}`, "", "", true},
		{"not json", `hello`, "", "", true},
		{"array", `[1,2]`, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env, err := ParseEnvelope([]byte(tt.in))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedEnvelope) {
					t.Fatalf("err = %v, want ErrMalformedEnvelope", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if env.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", env.Type, tt.wantType)
			}
			if env.Text() != tt.wantText {
				t.Errorf("Text = %q, want %q", env.Text(), tt.wantText)
			}
		})
	}
}

func TestEventJSON(t *testing.T) {
	msg := types.NewMessageWithID("a1", types.RoleAssistant, "Hello")
	tests := []struct {
		name string
		ev   Event
		want map[string]any
	}{
		{"start", Start("a1"), map[string]any{"type": TypeStart, "messageId": "a1"}},
		{"chunk", Chunk("a1", "Hel"), map[string]any{"type": TypeChunk, "messageId": "a1", "chunk": "Hel"}},
		{"error", Error("boom"), map[string]any{"type": TypeError, "error": "boom"}},
		{"ack", AudioAck(AdapterStream), map[string]any{"type": TypeAudioAck, "adapterType": "stream"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var got map[string]any
			json.Unmarshal(raw, &got)
			if len(got) != len(tt.want) {
				t.Errorf("fields = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}

	raw, _ := json.Marshal(Complete(msg))
	var complete struct {
		Type    string        `json:"type"`
		Message types.Message `json:"message"`
	}
	json.Unmarshal(raw, &complete)
	if complete.Type != TypeComplete || complete.Message != msg {
		t.Errorf("complete = %+v", complete)
	}
}

func TestTerminal(t *testing.T) {
	if Start("x").Terminal() || Chunk("x", "y").Terminal() {
		t.Error("start/chunk reported terminal")
	}
	if !Error("e").Terminal() || !Complete(types.Message{}).Terminal() {
		t.Error("error/complete not terminal")
	}
}

func TestCollector_FailAfter(t *testing.T) {
	errGone := errors.New("gone")
	c := &Collector{FailAfter: 1, Err: errGone}
	ctx := context.Background()
	if err := c.Send(ctx, Start("a")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.Send(ctx, Chunk("a", "b")); !errors.Is(err, errGone) {
		t.Fatalf("second send = %v, want errGone", err)
	}
	if got := c.Types(); len(got) != 1 || got[0] != TypeStart {
		t.Errorf("Types = %v", got)
	}
}
