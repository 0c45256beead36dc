// Package audio extracts stream metadata from raw upload bytes. The probe is
// best-effort at admission time; the worker re-runs it as the authoritative
// source before transcription.
package audio

import (
	"encoding/binary"
	"errors"
)

var ErrUnknownFormat = errors.New("audio: unrecognized or truncated container")

type Meta struct {
	DurationSec float64
	SampleRate  int
	Channels    int
	Format      string
}

// Probe parses the container header. Only RIFF/WAVE is decoded locally; any
// other payload returns ErrUnknownFormat, which callers treat as
// duration-unknown rather than rejecting the upload.
func Probe(b []byte) (Meta, error) {
	if len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE" {
		return probeWAV(b)
	}
	return Meta{}, ErrUnknownFormat
}

// probeWAV walks the RIFF chunk list for fmt and data. Duration is
// data-length over byte-rate, the same figure a full decode yields for PCM.
func probeWAV(b []byte) (Meta, error) {
	var (
		meta     Meta
		byteRate uint32
		dataLen  uint32
		haveFmt  bool
		haveData bool
	)

	off := 12
	for off+8 <= len(b) {
		chunkID := string(b[off : off+4])
		chunkLen := binary.LittleEndian.Uint32(b[off+4 : off+8])
		body := off + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(b) {
				return Meta{}, ErrUnknownFormat
			}
			meta.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			meta.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			byteRate = binary.LittleEndian.Uint32(b[body+8 : body+12])
			haveFmt = true
		case "data":
			dataLen = chunkLen
			haveData = true
		}

		// chunks are word-aligned
		off = body + int(chunkLen)
		if chunkLen%2 == 1 {
			off++
		}
	}

	if !haveFmt || !haveData || byteRate == 0 {
		return Meta{}, ErrUnknownFormat
	}

	meta.Format = "wav"
	meta.DurationSec = float64(dataLen) / float64(byteRate)
	return meta, nil
}
