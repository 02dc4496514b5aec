package parser

import (
	"bytes"
	_ "embed"
	"fmt"
	"image/png"
	"sync"
)

//go:embed assets/corrupt.png
var corruptPNG []byte

var (
	placeholderOnce sync.Once
	placeholderJPEG []byte
	placeholderErr  error
)

// Placeholder returns the stand-in page written when an asset cannot be
// fetched. It is already in the canonical format so it passes through the
// same path as any other page.
func Placeholder(quality int) ([]byte, error) {
	placeholderOnce.Do(func() {
		img, err := png.Decode(bytes.NewReader(corruptPNG))
		if err != nil {
			placeholderErr = fmt.Errorf("failed to decode placeholder: %w", err)
			return
		}
		placeholderJPEG, placeholderErr = EncodeJPEG(img, quality)
	})
	return placeholderJPEG, placeholderErr
}
