package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
)

// ErrNotWAV is returned by DecodeWAV when the input lacks a RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// EncodeWAV wraps PCM in a canonical 44-byte RIFF/WAVE header so it can be
// uploaded to speech-to-text servers that expect an audio file.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8

	buf := make([]byte, wavHeaderSize+len(pcm))
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:], bitsPerSample)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// DecodeWAV walks the RIFF chunks of a WAV file and returns the format from
// its "fmt " chunk and the PCM payload of its "data" chunk. Only 16-bit
// integer PCM is accepted. Servers that stream WAV often write a zero or
// oversized data length; the payload is then clipped to what is present.
func DecodeWAV(wav []byte) (Format, []byte, error) {
	if len(wav) < 12 || !bytes.Equal(wav[0:4], []byte("RIFF")) || !bytes.Equal(wav[8:12], []byte("WAVE")) {
		return Format{}, nil, ErrNotWAV
	}

	var (
		f       Format
		haveFmt bool
	)
	rest := wav[12:]
	for len(rest) >= 8 {
		id := string(rest[0:4])
		size := int(binary.LittleEndian.Uint32(rest[4:8]))
		body := rest[8:]

		switch id {
		case "fmt ":
			if len(body) < 16 {
				return Format{}, nil, fmt.Errorf("audio: truncated fmt chunk")
			}
			if tag := binary.LittleEndian.Uint16(body[0:]); tag != 1 {
				return Format{}, nil, fmt.Errorf("audio: unsupported WAV encoding %d", tag)
			}
			if bps := binary.LittleEndian.Uint16(body[14:]); bps != bitsPerSample {
				return Format{}, nil, fmt.Errorf("audio: unsupported bit depth %d", bps)
			}
			f.Channels = int(binary.LittleEndian.Uint16(body[2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(body[4:]))
			haveFmt = true

		case "data":
			if !haveFmt {
				return Format{}, nil, fmt.Errorf("audio: data chunk before fmt chunk")
			}
			if size <= 0 || size > len(body) {
				size = len(body)
			}
			return f, body[:size], nil
		}

		// Chunks are word aligned.
		skip := 8 + size + size%2
		if skip > len(rest) {
			break
		}
		rest = rest[skip:]
	}
	return Format{}, nil, fmt.Errorf("audio: no data chunk")
}
