package ai

import (
	"bytes"
	"encoding/binary"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

// DetectAudioMIME guesses the container of an uploaded clip, falling back when
// the bytes are not recognized as audio.
func DetectAudioMIME(audio []byte, fallback string) string {
	detected := http.DetectContentType(audio)
	if idx := strings.IndexByte(detected, ';'); idx >= 0 {
		detected = detected[:idx]
	}

	switch detected {
	case "audio/wave", "audio/wav", "audio/x-wav":
		return "audio/wav"
	case "video/webm", "audio/webm":
		return "audio/webm"
	case "application/ogg", "audio/ogg":
		return "audio/ogg"
	case "audio/mpeg":
		return "audio/mpeg"
	case "audio/aiff", "audio/midi", "audio/basic":
		return detected
	}

	if fallback == "" {
		return "audio/wav"
	}
	return fallback
}

const (
	defaultPCMRate = 24000
	pcmChannels    = 1
	pcmBitDepth    = 16
)

// pcmToWAV wraps raw little-endian 16-bit mono PCM in a RIFF/WAVE header. The
// sample rate is read from a mime type such as "audio/L16;codec=pcm;rate=24000".
func pcmToWAV(pcm []byte, mimeType string) []byte {
	rate := defaultPCMRate
	if _, params, err := mime.ParseMediaType(mimeType); err == nil {
		if parsed, err := strconv.Atoi(params["rate"]); err == nil && parsed > 0 {
			rate = parsed
		}
	}

	blockAlign := pcmChannels * pcmBitDepth / 8
	byteRate := rate * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(pcmChannels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(rate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(pcmBitDepth))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// isPCM reports whether mimeType names headerless linear PCM.
func isPCM(mimeType string) bool {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType == "audio/l16" || mediaType == "audio/pcm"
}
