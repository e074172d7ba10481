package audio

import (
	"strconv"
	"strings"
)

// Format is a parsed provider output format such as "mp3_44100_128" or
// "pcm_16000".
type Format struct {
	Codec      string
	SampleRate int
	Bitrate    int
}

func ParseFormat(raw string) Format {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(raw)), "_")
	f := Format{Codec: parts[0]}
	if len(parts) > 1 {
		f.SampleRate, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		f.Bitrate, _ = strconv.Atoi(parts[2])
	}
	return f
}

func (f Format) IsPCM() bool { return f.Codec == "pcm" }

// Extension is the file extension audio of this format is stored under.
func (f Format) Extension() string {
	switch f.Codec {
	case "pcm":
		return ".wav"
	case "mp3":
		return ".mp3"
	case "ulaw":
		return ".ulaw"
	case "opus":
		return ".opus"
	case "":
		return ".bin"
	default:
		return "." + f.Codec
	}
}
