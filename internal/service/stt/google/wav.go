package google

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// wavHeaderSize is the canonical 44-byte PCM WAV header.
const wavHeaderSize = 44

// ErrNotWAV is returned when the input does not carry a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a valid WAV file")

// WAVFormat describes the PCM stream following a WAV header.
type WAVFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// ReadWAVHeader consumes and validates a canonical PCM WAV header.
func ReadWAVHeader(r io.Reader) (WAVFormat, error) {
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return WAVFormat{}, fmt.Errorf("read WAV header: %w", err)
	}

	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return WAVFormat{}, ErrNotWAV
	}

	f := WAVFormat{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}
	if f.AudioFormat != 1 {
		return f, fmt.Errorf("unsupported WAV format %d: only PCM supported", f.AudioFormat)
	}
	return f, nil
}

// OpenWAV opens a PCM WAV file and returns a reader positioned at the first sample.
func OpenWAV(path string) (io.ReadCloser, WAVFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WAVFormat{}, err
	}
	format, err := ReadWAVHeader(f)
	if err != nil {
		f.Close()
		return nil, WAVFormat{}, err
	}
	return f, format, nil
}
