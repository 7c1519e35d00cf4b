// Package stream decodes the incremental byte streams produced by language
// model backends into text fragments.
//
// Two framings are accepted on the same stream: Server-Sent Events where each
// payload line is prefixed with "data:", and newline-delimited JSON where each
// line is a bare JSON object. Payloads are inspected with gjson so that every
// backend shape (OpenAI-style deltas, Workers AI "response" frames, plain
// "text" or "content" objects) flows through one extraction routine.
//
// The Parser is the only stateful piece: it holds the trailing partial line of
// the previous chunk. Splitting the same byte sequence at arbitrary positions
// always yields the same fragments.
package stream

import (
	"bytes"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// Parser converts raw stream chunks into text fragments. The zero value is
// ready to use. A Parser is not safe for concurrent use.
type Parser struct {
	buf []byte
}

// NewParser returns an empty Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends chunk to the pending buffer and returns the fragments carried
// by every line completed by it, in stream order. The trailing incomplete line
// stays buffered for the next call.
func (p *Parser) Feed(chunk []byte) []string {
	p.buf = append(p.buf, chunk...)

	var out []string
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		if frag, ok := ParseLine(string(p.buf[:i])); ok {
			out = append(out, frag)
		}
		p.buf = p.buf[i+1:]
	}

	if len(p.buf) == 0 {
		p.buf = nil
	}
	return out
}

// Flush processes whatever remains in the buffer as a final line and clears
// it. Streams that do not end with a newline still deliver their last frame.
func (p *Parser) Flush() []string {
	if len(p.buf) == 0 {
		return nil
	}
	rest := string(p.buf)
	p.buf = nil
	if frag, ok := ParseLine(rest); ok {
		return []string{frag}
	}
	return nil
}

// Reset discards any pending partial line.
func (p *Parser) Reset() {
	p.buf = nil
}

// Pending returns the number of buffered bytes not yet terminated by a
// newline.
func (p *Parser) Pending() int {
	return len(p.buf)
}

// ParseLine extracts the fragment carried by a single line.
//
// Blank lines, SSE field lines other than "data:", the "[DONE]" sentinel and
// malformed JSON all yield ok == false. A line without the SSE prefix is only
// considered when it looks like a JSON object.
func ParseLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}

	payload := line
	if rest, ok := strings.CutPrefix(line, dataPrefix); ok {
		payload = strings.TrimSpace(rest)
		if payload == doneSentinel {
			return "", false
		}
	} else if !strings.HasPrefix(line, "{") {
		return "", false
	}

	return Extract(payload)
}

// Extract pulls the text fragment out of one JSON payload. Lookup order:
//
//  1. choices[0].delta.content
//  2. response
//  3. text
//  4. content
//
// The first key that holds a JSON string wins, including the empty string.
// Payloads that are not JSON objects, or carry none of the keys, yield
// ok == false.
func Extract(payload string) (string, bool) {
	if !gjson.Valid(payload) {
		return "", false
	}
	root := gjson.Parse(payload)
	if !root.IsObject() {
		return "", false
	}

	if choices := root.Get("choices"); choices.IsArray() {
		if delta := choices.Get("0.delta.content"); delta.Type == gjson.String {
			return delta.Str, true
		}
	}

	for _, key := range [...]string{"response", "text", "content"} {
		if v := root.Get(key); v.Type == gjson.String {
			return v.Str, true
		}
	}
	return "", false
}
