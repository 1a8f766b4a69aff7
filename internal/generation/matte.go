package generation

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	// Backends occasionally answer with JPEG despite the PNG request.
	_ "image/jpeg"
)

// MatteThreshold is the lowest channel value treated as background white.
const MatteThreshold = 238

// Matte returns a copy of img where every pixel whose red, green and blue
// channels are all at least MatteThreshold is fully transparent.
func Matte(img image.Image) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.R >= MatteThreshold && c.G >= MatteThreshold && c.B >= MatteThreshold {
				c.A = 0
			}
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// MattePNG decodes data, applies Matte and encodes the result as PNG.
func MattePNG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, Matte(img)); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}
