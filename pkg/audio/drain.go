package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it to release a synthesis goroutine whose output is no longer wanted.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
