package fints

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// buildContainer assembles a length-prefixed challenge blob the way the
// banks frame photoTAN images.
func buildContainer(mime string, payload []byte, declaredLen int) []byte {
	var buf bytes.Buffer
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(mime)))
	buf.Write(l[:])
	buf.WriteString(mime)
	binary.BigEndian.PutUint16(l[:], uint16(declaredLen))
	buf.Write(l[:])
	buf.Write(payload)
	return buf.Bytes()
}

func TestDecodeChallengeImage_Container(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	raw := buildContainer("image/png", payload, len(payload))

	mime, img, err := DecodeChallengeImage(raw)
	if err != nil {
		t.Fatalf("DecodeChallengeImage() error = %v", err)
	}
	if mime != "image/png" {
		t.Errorf("mime = %q, expected %q", mime, "image/png")
	}
	if !bytes.Equal(img, payload) {
		t.Errorf("image = %v, expected %v", img, payload)
	}
}

func TestDecodeChallengeImage_ShortDeclaredLength(t *testing.T) {
	// Bank declares more bytes than it sends; the decoder must tolerate
	// that and take everything that remains.
	payload := []byte("JPEGDATA")
	raw := buildContainer("image/jpeg", payload, len(payload)+100)

	mime, img, err := DecodeChallengeImage(raw)
	if err != nil {
		t.Fatalf("DecodeChallengeImage() error = %v", err)
	}
	if mime != "image/jpeg" {
		t.Errorf("mime = %q, expected %q", mime, "image/jpeg")
	}
	if !bytes.Equal(img, payload) {
		t.Errorf("image = %q, expected %q", img, payload)
	}
}

func TestDecodeChallengeImage_LongDeclaredLengthTruncates(t *testing.T) {
	payload := []byte{9, 9, 9, 9}
	raw := buildContainer("image/png", append(payload, 0xAA, 0xBB), len(payload))

	_, img, err := DecodeChallengeImage(raw)
	if err != nil {
		t.Fatalf("DecodeChallengeImage() error = %v", err)
	}
	if !bytes.Equal(img, payload) {
		t.Errorf("image = %v, expected exactly %v", img, payload)
	}
}

func TestDecodeChallengeImage_PNGFallback(t *testing.T) {
	raw := append(append([]byte{}, pngMagic...), []byte("rest-of-png")...)

	mime, img, err := DecodeChallengeImage(raw)
	if err != nil {
		t.Fatalf("DecodeChallengeImage() error = %v", err)
	}
	if mime != "image/png" {
		t.Errorf("mime = %q, expected %q", mime, "image/png")
	}
	if !bytes.Equal(img, raw) {
		t.Errorf("fallback must return the full input, got %d of %d bytes", len(img), len(raw))
	}
}

func TestDecodeChallengeImage_JPEGFallback(t *testing.T) {
	raw := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

	mime, _, err := DecodeChallengeImage(raw)
	if err != nil {
		t.Fatalf("DecodeChallengeImage() error = %v", err)
	}
	if mime != "image/jpeg" {
		t.Errorf("mime = %q, expected %q", mime, "image/jpeg")
	}
}

func TestDecodeChallengeImage_NotAnImage(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"plain text", []byte("Bitte TAN eingeben: 123456")},
		{"container with non-image mime", buildContainer("text/plain", []byte("hello"), 5)},
		{"too short for framing", []byte{0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeChallengeImage(tt.raw)
			if !errors.Is(err, ErrNotAnImage) {
				t.Errorf("DecodeChallengeImage() error = %v, expected ErrNotAnImage", err)
			}
		})
	}
}

func TestDecodeChallengeImage_Deterministic(t *testing.T) {
	raw := buildContainer("image/png", []byte{1, 2, 3}, 3)

	mime1, img1, err1 := DecodeChallengeImage(raw)
	mime2, img2, err2 := DecodeChallengeImage(raw)
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v, %v", err1, err2)
	}
	if mime1 != mime2 || !bytes.Equal(img1, img2) {
		t.Error("decode is not deterministic for identical input")
	}
}
