// Package audio holds the small amount of container handling the terminal
// client needs to store streamed PCM as playable files.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	wavFormatPCM     = 1
	wavBitsPerSample = 16
	wavHeaderSize    = 44
)

type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm16 payload has odd length %d", len(pcm))
	}
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(wavHeaderSize - 8 + len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   wavFormatPCM,
		Channels:      1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * wavBitsPerSample / 8),
		BlockAlign:    wavBitsPerSample / 8,
		BitsPerSample: wavBitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	if err := binary.Write(out, binary.LittleEndian, h); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// DecodeWAVPCM16LE reads back what EncodeWAVPCM16LE writes.
func DecodeWAVPCM16LE(wav []byte) ([]byte, int, error) {
	if len(wav) < wavHeaderSize {
		return nil, 0, errors.New("wav too short")
	}
	var h wavHeader
	if err := binary.Read(bytes.NewReader(wav[:wavHeaderSize]), binary.LittleEndian, &h); err != nil {
		return nil, 0, err
	}
	if string(h.RIFF[:]) != "RIFF" || string(h.WAVE[:]) != "WAVE" || string(h.Data[:]) != "data" {
		return nil, 0, errors.New("not a canonical wav file")
	}
	if h.AudioFormat != wavFormatPCM || h.BitsPerSample != wavBitsPerSample || h.Channels != 1 {
		return nil, 0, fmt.Errorf("unsupported wav: format=%d bits=%d channels=%d", h.AudioFormat, h.BitsPerSample, h.Channels)
	}
	end := wavHeaderSize + int(h.DataSize)
	if end > len(wav) {
		return nil, 0, errors.New("wav data truncated")
	}
	return wav[wavHeaderSize:end], int(h.SampleRate), nil
}
