package stream

import (
	"errors"
	"io"
	"iter"
)

const readSize = 4096

// Scan returns a lazy sequence over the fragments carried by r.
//
// Each iteration step reads from r only as far as needed to produce the next
// fragment, so consumers can forward fragments while the backend is still
// generating. At EOF the parser is flushed. Any other read error is yielded
// once, with an empty fragment, as the final element. The sequence consumes
// r and cannot be restarted.
func Scan(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		p := NewParser()
		buf := make([]byte, readSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				for _, frag := range p.Feed(buf[:n]) {
					if !yield(frag, nil) {
						return
					}
				}
			}
			if errors.Is(err, io.EOF) {
				for _, frag := range p.Flush() {
					if !yield(frag, nil) {
						return
					}
				}
				return
			}
			if err != nil {
				yield("", err)
				return
			}
		}
	}
}
