package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

// testJPEG encodes a synthetic gradient image of the given dimensions.
func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func variantDims(t *testing.T, v Variant) (int, int) {
	t.Helper()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(v.Data))
	require.NoErrorf(t, err, "decoding %s/%s variant", v.Format, v.Size)
	return cfg.Width, cfg.Height
}

func TestTranscodeAllTargets(t *testing.T) {
	t.Parallel()

	source := testJPEG(t, 800, 600)
	variants, err := Transcode(source, AllTargets())
	require.NoError(t, err)
	require.Len(t, variants, 9, "3 sizes x 3 formats")

	want := map[Size][2]int{
		SizeSmall:  {320, 240},
		SizeMedium: {768, 576},
		SizeLarge:  {800, 600},
	}

	seen := map[Target]bool{}
	for _, v := range variants {
		require.NotEmpty(t, v.Data)
		seen[Target{Size: v.Size, Format: v.Format}] = true

		w, h := variantDims(t, v)
		require.Equal(t, want[v.Size][0], w, "%s/%s width", v.Format, v.Size)
		require.Equal(t, want[v.Size][1], h, "%s/%s height", v.Format, v.Size)
	}
	require.Len(t, seen, 9, "each target derived exactly once")
}

func TestTranscodeNeverEnlarges(t *testing.T) {
	t.Parallel()

	// Source smaller than every tier's bounding box.
	source := testJPEG(t, 100, 60)
	variants, err := Transcode(source, AllTargets())
	require.NoError(t, err)

	for _, v := range variants {
		w, h := variantDims(t, v)
		require.Equal(t, 100, w, "%s/%s must keep source width", v.Format, v.Size)
		require.Equal(t, 60, h, "%s/%s must keep source height", v.Format, v.Size)
	}
}

func TestTranscodePreservesAspectRatio(t *testing.T) {
	t.Parallel()

	source := testJPEG(t, 1000, 333)
	variants, err := Transcode(source, []Target{
		{Size: SizeSmall, Format: FormatJPEG},
		{Size: SizeMedium, Format: FormatJPEG},
	})
	require.NoError(t, err)

	srcRatio := 1000.0 / 333.0
	for _, v := range variants {
		w, h := variantDims(t, v)
		require.LessOrEqual(t, w, 1000)
		require.LessOrEqual(t, h, 333)
		ratio := float64(w) / float64(h)
		// One pixel of rounding tolerance on the short edge.
		tolerance := srcRatio*float64(h+1)/float64(h) - srcRatio
		require.InDelta(t, srcRatio, ratio, tolerance, "%s aspect ratio", v.Size)
	}
}

func TestTranscodePNGSource(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 400, 400))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	variants, err := Transcode(buf.Bytes(), []Target{{Size: SizeSmall, Format: FormatWebP}})
	require.NoError(t, err)
	require.Len(t, variants, 1)

	w, h := variantDims(t, variants[0])
	require.Equal(t, 320, w)
	require.Equal(t, 320, h)
}

func TestTranscodeDecodeError(t *testing.T) {
	t.Parallel()

	_, err := Transcode([]byte("definitely not an image"), AllTargets())
	require.Error(t, err)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestFitWithin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		src   image.Rectangle
		res   Resolution
		wantW int
		wantH int
	}{
		{name: "width bound", src: image.Rect(0, 0, 640, 480), res: Resolution{Width: 320}, wantW: 320, wantH: 240},
		{name: "height bound", src: image.Rect(0, 0, 640, 480), res: Resolution{Height: 240}, wantW: 320, wantH: 240},
		{name: "both bounds take tighter", src: image.Rect(0, 0, 640, 480), res: Resolution{Width: 320, Height: 400}, wantW: 320, wantH: 240},
		{name: "unconstrained passthrough", src: image.Rect(0, 0, 640, 480), res: Resolution{}, wantW: 640, wantH: 480},
		{name: "no enlargement", src: image.Rect(0, 0, 100, 100), res: Resolution{Width: 320}, wantW: 100, wantH: 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w, h := fitWithin(tc.src, tc.res)
			require.Equal(t, tc.wantW, w)
			require.Equal(t, tc.wantH, h)
		})
	}
}
