package pipeline

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"gocv.io/x/gocv"
)

// SupportedFormats are the upload formats accepted by DecodeImage.
var SupportedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
	"bmp":  true,
	"webp": true,
}

// DecodeImage decodes an encoded image into a BGR Mat owned by the caller.
// Anything that is not a well-formed JPEG, PNG, BMP or WEBP yields
// ErrMalformedInput.
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.Mat{}, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if !SupportedFormats[format] {
		return gocv.Mat{}, fmt.Errorf("%w: unsupported format %q", ErrMalformedInput, format)
	}

	// decode fully so truncated payloads are rejected rather than padded
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	return mat, nil
}
