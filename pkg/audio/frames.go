package audio

// DefaultFrameBytes bounds a single outbound audio message on the transport.
const DefaultFrameBytes = 32 * 1024

// SplitFrames cuts data into consecutive slices of at most limit bytes. The
// slices alias data. A non-positive limit selects [DefaultFrameBytes].
func SplitFrames(data []byte, limit int) [][]byte {
	if len(data) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = DefaultFrameBytes
	}
	frames := make([][]byte, 0, (len(data)+limit-1)/limit)
	for len(data) > limit {
		frames = append(frames, data[:limit:limit])
		data = data[limit:]
	}
	return append(frames, data)
}
