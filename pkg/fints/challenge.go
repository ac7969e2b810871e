package fints

import (
	"bytes"
	"encoding/binary"
	"net/http"
	"strings"
)

// maxMimeLen bounds the MIME-type field of the length-prefixed challenge
// container. Real banks send strings like "image/png"; anything longer means
// the framing is absent.
const maxMimeLen = 50

var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// DecodeChallengeImage converts the binary HHD/UC challenge blob of a
// photoTAN/chipTAN request into a displayable image and its MIME type.
//
// The primary path parses the bank's length-prefixed container: a 2-byte
// big-endian MIME-type length, the MIME type, a 2-byte big-endian payload
// length, then the image bytes. Some banks send a short or garbled payload
// length; in that case the remainder of the blob is used as-is rather than
// failing the whole sync. When the container framing is absent the raw bytes
// are sniffed for known image signatures. Returns ErrNotAnImage when neither
// path yields an image; the caller must then surface the textual challenge
// so the user can fall back to a manually read TAN.
//
// The function is pure: the same input always yields the same result.
func DecodeChallengeImage(raw []byte) (string, []byte, error) {
	if mime, img, ok := decodeContainer(raw); ok {
		return mime, img, nil
	}
	if mime, ok := sniffImage(raw); ok {
		return mime, raw, nil
	}
	return "", nil, ErrNotAnImage
}

func decodeContainer(raw []byte) (string, []byte, bool) {
	if len(raw) < 4 {
		return "", nil, false
	}
	mimeLen := int(binary.BigEndian.Uint16(raw))
	if mimeLen <= 0 || mimeLen >= maxMimeLen || 2+mimeLen+2 > len(raw) {
		return "", nil, false
	}
	mime := string(raw[2 : 2+mimeLen])
	if !strings.HasPrefix(mime, "image/") {
		return "", nil, false
	}
	rest := raw[2+mimeLen:]
	imgLen := int(binary.BigEndian.Uint16(rest))
	rest = rest[2:]
	if imgLen <= len(rest) {
		rest = rest[:imgLen]
	}
	return mime, rest, true
}

// sniffImage identifies raw image data by its magic bytes.
func sniffImage(raw []byte) (string, bool) {
	switch {
	case bytes.HasPrefix(raw, pngMagic):
		return "image/png", true
	case bytes.HasPrefix(raw, []byte{0xFF, 0xD8}):
		return "image/jpeg", true
	}
	if ct := http.DetectContentType(raw); strings.HasPrefix(ct, "image/") {
		return ct, true
	}
	return "", false
}
