package parser

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"
)

// CanonicalFormat is the raster format every stored page ends up in.
const CanonicalFormat = "jpeg"

// ErrUnknownFormat is returned when the payload matches no known magic bytes.
var ErrUnknownFormat = errors.New("unknown image format")

// TooSmallError reports an image under the minimum page dimension.
// Such images are icons, spacers or tracking pixels and are dropped.
type TooSmallError struct {
	Width, Height, Min int
}

func (e *TooSmallError) Error() string {
	return fmt.Sprintf("image %dx%d below minimum dimension %d", e.Width, e.Height, e.Min)
}

// detectImageFormat reads the magic bytes and returns the current image format string
func detectImageFormat(data []byte) (string, error) {
	if len(data) < 12 {
		return "", errors.New("data too short to determine format")
	}

	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "jpeg", nil
	}
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "png", nil
	}
	if string(data[0:6]) == "GIF87a" || string(data[0:6]) == "GIF89a" {
		return "gif", nil
	}
	if string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP" {
		return "webp", nil
	}

	return "", ErrUnknownFormat
}

// FormatFromExtension maps a URL or file extension to a format name.
// Unknown extensions map to "".
func FormatFromExtension(ext string) string {
	switch strings.TrimPrefix(strings.ToLower(ext), ".") {
	case "jpg", "jpeg", "jfif":
		return "jpeg"
	case "png":
		return "png"
	case "gif":
		return "gif"
	case "webp":
		return "webp"
	}
	return ""
}

// NormalizeImage checks the page dimensions and re-encodes anything that is
// not already JPEG. JPEG input is returned untouched.
//
// hint is the format derived from the URL; the magic bytes win when they
// disagree with it.
func NormalizeImage(data []byte, hint string, minDim, quality int) ([]byte, string, error) {
	if len(data) == 0 {
		return nil, "", errors.New("empty image data")
	}

	format, err := detectImageFormat(data)
	if err != nil {
		if hint == "" {
			return nil, "", err
		}
		format = hint
	}

	cfg, err := decodeConfig(data, format)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s header: %w", format, err)
	}
	if cfg.Width < minDim || cfg.Height < minDim {
		return nil, format, &TooSmallError{Width: cfg.Width, Height: cfg.Height, Min: minDim}
	}

	if format == CanonicalFormat {
		return data, format, nil
	}

	img, err := decode(data, format)
	if err != nil {
		return nil, format, fmt.Errorf("failed to decode %s image: %w", format, err)
	}

	out, err := EncodeJPEG(img, quality)
	if err != nil {
		return nil, format, err
	}
	return out, format, nil
}

// EncodeJPEG encodes img in the canonical format.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, format string) (image.Image, error) {
	reader := bytes.NewReader(data)
	switch format {
	case "png":
		return png.Decode(reader)
	case "gif":
		return gif.Decode(reader)
	case "webp":
		return webp.Decode(reader)
	case "jpeg":
		img, _, err := image.Decode(reader)
		return img, err
	}
	return nil, errors.New("unsupported image format: " + format)
}

func decodeConfig(data []byte, format string) (image.Config, error) {
	reader := bytes.NewReader(data)
	switch format {
	case "png":
		return png.DecodeConfig(reader)
	case "gif":
		return gif.DecodeConfig(reader)
	case "webp":
		return webp.DecodeConfig(reader)
	case "jpeg":
		cfg, _, err := image.DecodeConfig(reader)
		return cfg, err
	}
	return image.Config{}, errors.New("unsupported image format: " + format)
}
