package security

import (
	"bytes"
	"net/http"
	"strings"
)

// SniffLength is the number of leading bytes needed by DetectAudioMIME.
const SniffLength = 512

// DetectAudioMIME inspects leading bytes and returns the audio MIME type.
// Container formats that net/http reports as video or generic are mapped to their audio type.
func DetectAudioMIME(header []byte) string {
	switch {
	case len(header) >= 4 && bytes.Equal(header[:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "audio/webm"
	case bytes.HasPrefix(header, []byte("OggS")):
		return "audio/ogg"
	case bytes.HasPrefix(header, []byte("fLaC")):
		return "audio/flac"
	case len(header) >= 12 && bytes.Equal(header[:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")):
		return "audio/wav"
	case len(header) >= 8 && bytes.Equal(header[4:8], []byte("ftyp")):
		return "audio/mp4"
	case bytes.HasPrefix(header, []byte("ID3")):
		return "audio/mpeg"
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		return "audio/mpeg"
	}
	detected := http.DetectContentType(header)
	if idx := strings.Index(detected, ";"); idx >= 0 {
		detected = detected[:idx]
	}
	if detected == "audio/wave" {
		return "audio/wav"
	}
	return detected
}

// AllowedMIME reports whether mime is present in the allow list.
func AllowedMIME(mime string, allowed []string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	for _, candidate := range allowed {
		if strings.EqualFold(strings.TrimSpace(candidate), mime) {
			return true
		}
	}
	return false
}

// ExtensionFor returns the storage file extension for an audio MIME type.
func ExtensionFor(mime string) string {
	switch mime {
	case "audio/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/flac":
		return "flac"
	case "audio/wav", "audio/x-wav":
		return "wav"
	case "audio/mp4":
		return "m4a"
	case "audio/mpeg":
		return "mp3"
	default:
		return "bin"
	}
}
