package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"

	_ "image/gif"
	_ "image/png"

	"github.com/gen2brain/avif"
	"github.com/gen2brain/webp"
	"golang.org/x/image/draw"
)

const jpegQuality = 80

// DecodeError reports a source image that could not be decoded. The
// asset is unusable; callers skip it rather than failing the whole run.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode source image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Transcode decodes source once and derives one variant per target.
// Any target that fails to encode fails the whole batch, so a partial
// variant set is never produced for an asset.
func Transcode(source []byte, targets []Target) ([]Variant, error) {
	img, kind, err := image.Decode(bytes.NewReader(source))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	slog.Debug("Decoded source image", "format", kind, "bounds", img.Bounds())

	variants := make([]Variant, 0, len(targets))
	for _, t := range targets {
		scaled := resizeToFit(img, Resolutions[t.Size])
		data, err := encode(scaled, t.Format)
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s variant: %w", t.Format, t.Size, err)
		}
		variants = append(variants, Variant{Data: data, Format: t.Format, Size: t.Size})
	}

	return variants, nil
}

// fitWithin returns the dimensions of src scaled to fit inside res while
// preserving aspect ratio. Images are never enlarged: an unconstrained
// or already-fitting dimension keeps the source size.
func fitWithin(src image.Rectangle, res Resolution) (int, int) {
	srcW := src.Dx()
	srcH := src.Dy()
	if srcW == 0 || srcH == 0 {
		return srcW, srcH
	}

	scale := 1.0
	if res.Width > 0 {
		if s := float64(res.Width) / float64(srcW); s < scale {
			scale = s
		}
	}
	if res.Height > 0 {
		if s := float64(res.Height) / float64(srcH); s < scale {
			scale = s
		}
	}
	if scale >= 1.0 {
		return srcW, srcH
	}

	w := int(float64(srcW)*scale + 0.5)
	h := int(float64(srcH)*scale + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

func resizeToFit(img image.Image, res Resolution) image.Image {
	w, h := fitWithin(img.Bounds(), res)
	if w == img.Bounds().Dx() && h == img.Bounds().Dy() {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

func encode(img image.Image, format Format) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, err
		}
	case FormatWebP:
		if err := webp.Encode(&buf, img, webp.Options{Quality: 80}); err != nil {
			return nil, err
		}
	case FormatAVIF:
		if err := avif.Encode(&buf, img, avif.Options{Quality: 60, Speed: 8}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	return buf.Bytes(), nil
}
