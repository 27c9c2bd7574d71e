package fetch

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/webp"

	"github.com/hyperjump/vismatch/internal/models"
)

// Decode decodes image bytes of any registered format (jpeg, png, gif, webp).
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty image data")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, "", fmt.Errorf("image has no pixels")
	}
	return img, format, nil
}

// DecodeUpload reads and decodes a caller-supplied image, at most maxBytes long.
// Every failure is an ErrInput.
func DecodeUpload(r io.Reader, maxBytes int64) (image.Image, error) {
	if r == nil {
		return nil, models.InputError("decode upload", fmt.Errorf("no image provided"))
	}
	data, err := readLimited(r, maxBytes)
	if err != nil {
		return nil, models.InputError("decode upload", err)
	}
	img, _, err := Decode(data)
	if err != nil {
		return nil, models.InputError("decode upload", err)
	}
	return img, nil
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("image larger than %d bytes", maxBytes)
	}
	return data, nil
}
