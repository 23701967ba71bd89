// Package imaging derives resized, re-encoded variants of source images
// for the asset sync pipeline.
package imaging

// Format is an output image encoding.
type Format string

const (
	FormatJPEG Format = "jpg"
	FormatWebP Format = "webp"
	FormatAVIF Format = "avif"
)

// Formats lists every output encoding a synced asset is derived into.
var Formats = []Format{FormatJPEG, FormatWebP, FormatAVIF}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	case FormatAVIF:
		return "image/avif"
	}
	return "application/octet-stream"
}

// Size is a named resolution tier for derived variants.
type Size string

const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

// Sizes lists the resolution tiers in ascending order.
var Sizes = []Size{SizeSmall, SizeMedium, SizeLarge}

// Resolution is the bounding box for a tier. A zero dimension is
// unconstrained; a fully zero Resolution means "keep original size".
type Resolution struct {
	Width  int
	Height int
}

// Resolutions maps each tier to its bounding box. The large tier is a
// passthrough re-encode at original dimensions.
var Resolutions = map[Size]Resolution{
	SizeSmall:  {Width: 320},
	SizeMedium: {Width: 768},
	SizeLarge:  {},
}

// Target is one (tier, encoding) combination to derive.
type Target struct {
	Size   Size
	Format Format
}

// Variant is a derived image buffer produced by Transcode.
type Variant struct {
	Data   []byte
	Format Format
	Size   Size
}

// AllTargets returns the full cartesian product of tiers and formats.
func AllTargets() []Target {
	targets := make([]Target, 0, len(Sizes)*len(Formats))
	for _, size := range Sizes {
		for _, format := range Formats {
			targets = append(targets, Target{Size: size, Format: format})
		}
	}
	return targets
}

// ContentTypeForExt returns the MIME type for a file extension (without
// the leading dot), defaulting to application/octet-stream.
func ContentTypeForExt(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "avif":
		return "image/avif"
	case "svg":
		return "image/svg+xml"
	case "json":
		return "application/json"
	}
	return "application/octet-stream"
}
