package e2e

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
)

// SupportedFileExtensions is the list of image extensions written by E2E file-based tests.
// WebP is accepted on upload but has no encoder, so it is not generated here.
var SupportedFileExtensions = []string{".png", ".jpg", ".jpeg"}

// EncodeImage encodes img in the format named by ext.
func EncodeImage(ext string, img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch ext {
	case ".png":
		err = png.Encode(&buf, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	default:
		return nil, fmt.Errorf("unsupported extension %q", ext)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
