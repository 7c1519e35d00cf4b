// Package audio holds the PCM plumbing shared by the voice path: the bounded
// ingest buffer, transport framing, WAV container handling and simple format
// conversion between the media adapter and the speech providers.
//
// All PCM in this package is 16-bit signed little-endian, interleaved when
// there is more than one channel.
package audio
