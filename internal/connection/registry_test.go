package connection

import (
	"sync"
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"ingest", AudioIngest, false},
		{"stream", AudioStream, false},
		{"chat", Chat, false},
		{"video", Chat, true},
		{"", Chat, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("role = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoleString(t *testing.T) {
	if AudioStream.String() != "stream" || Role(9).String() != "Role(9)" {
		t.Errorf("String: %q %q", AudioStream.String(), Role(9).String())
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	r := NewRegistry[string]()
	r.Register("a", Chat)
	r.Register("b", AudioIngest)

	if role, ok := r.Lookup("b"); !ok || role != AudioIngest {
		t.Fatalf("Lookup(b) = %v, %v", role, ok)
	}

	// A chat connection upgraded by an audio_connection envelope.
	r.Register("a", AudioStream)
	if got := r.Handles(AudioStream); len(got) != 1 || got[0] != "a" {
		t.Errorf("Handles(stream) = %v", got)
	}
	if got := r.Handles(Chat); len(got) != 0 {
		t.Errorf("Handles(chat) = %v, want none", got)
	}

	r.Unregister("a")
	r.Unregister("missing")
	if _, ok := r.Lookup("a"); ok {
		t.Error("a still registered")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry[int]()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Go(func() {
			r.Register(i, Role(i%3))
			r.Lookup(i)
			r.Handles(Chat)
			if i%2 == 0 {
				r.Unregister(i)
			}
		})
	}
	wg.Wait()
	if r.Len() != 25 {
		t.Errorf("Len = %d, want 25", r.Len())
	}
}
