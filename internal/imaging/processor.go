package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"plant-backend/internal/analysis"
)

// DefaultMaxSize bounds the longest image edge sent to the vision model.
const DefaultMaxSize = 1024

// Processor implements analysis.Preprocessor: decode, bound the size, and
// optionally enhance and mask the background before inference.
type Processor struct {
	MaxSize int
}

// NewProcessor returns a Processor with the given edge bound, or the default
// when maxSize is not positive.
func NewProcessor(maxSize int) *Processor {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Processor{MaxSize: maxSize}
}

// Preprocess decodes, resizes, and optionally enhances the image, returning a
// JPEG re-encoding. Decode failures are reported as *analysis.ImageError.
func (p *Processor) Preprocess(ctx context.Context, data []byte, opts analysis.PreprocessOptions) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &analysis.ImageError{Err: fmt.Errorf("decode image: %w", err)}
	}
	if !supportedFormat(format) {
		return nil, &analysis.ImageError{Err: fmt.Errorf("unsupported image format: %s", format)}
	}

	img = p.resize(img)
	if opts.Enhance {
		img = enhance(img)
	}
	if opts.RemoveBackground {
		img = maskBackground(img)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, &analysis.ImageError{Err: fmt.Errorf("encode image: %w", err)}
	}
	return buf.Bytes(), nil
}

func supportedFormat(format string) bool {
	switch format {
	case "jpeg", "png", "webp":
		return true
	default:
		return false
	}
}

// resize bounds the longest edge at MaxSize, preserving aspect ratio. Smaller
// images pass through untouched.
func (p *Processor) resize(img image.Image) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= p.MaxSize && height <= p.MaxSize {
		return img
	}
	if width > height {
		return imaging.Resize(img, p.MaxSize, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, p.MaxSize, imaging.Lanczos)
}

// enhance applies the fixed brightness/contrast/sharpness/saturation bumps
// tuned for plant photos.
func enhance(img image.Image) image.Image {
	out := imaging.AdjustBrightness(img, 10)
	out = imaging.AdjustContrast(out, 20)
	out = imaging.Sharpen(out, 0.5)
	out = imaging.AdjustSaturation(out, 10)
	return out
}

// maskBackground blanks pixels outside the green hue range so the model sees
// mostly foliage. Crude compared to a real segmentation pass, but it fails
// soft: a photo with no green survives as a mostly-black image rather than an
// error.
func maskBackground(img image.Image) image.Image {
	nrgba := imaging.Clone(img)
	bounds := nrgba.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := nrgba.NRGBAAt(x, y)
			if !isGreenish(c) {
				nrgba.SetNRGBA(x, y, color.NRGBA{A: 255})
			}
		}
	}
	return nrgba
}

// isGreenish approximates an HSV hue check: green channel dominates both red
// and blue, with enough saturation to exclude gray.
func isGreenish(c color.NRGBA) bool {
	g := int(c.G)
	return g > int(c.R) && g > int(c.B) && g-min(int(c.R), int(c.B)) > 20
}
