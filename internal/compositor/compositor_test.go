package compositor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, width, height int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeBounds(t *testing.T, data []byte) image.Rectangle {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img.Bounds()
}

func TestBakeScalesOverlayToMasterDimensions(t *testing.T) {
	master := encodePNG(t, 80, 60, color.White)
	overlay := encodePNG(t, 20, 20, color.RGBA{R: 255, A: 255})

	baked, err := Bake(master, overlay)
	require.NoError(t, err)

	bounds := decodeBounds(t, baked)
	require.Equal(t, 80, bounds.Dx())
	require.Equal(t, 60, bounds.Dy())
}

func TestBakeOverlayCoversMaster(t *testing.T) {
	master := encodePNG(t, 16, 16, color.White)
	overlay := encodePNG(t, 8, 8, color.RGBA{R: 255, A: 255})

	baked, err := Bake(master, overlay)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(baked))
	require.NoError(t, err)
	// An opaque overlay scaled to cover leaves no master pixels visible
	for _, pt := range []image.Point{{0, 0}, {15, 0}, {0, 15}, {15, 15}, {8, 8}} {
		r, g, b, _ := img.At(pt.X, pt.Y).RGBA()
		require.EqualValues(t, 0xffff, r, "pixel %v", pt)
		require.Zero(t, g, "pixel %v", pt)
		require.Zero(t, b, "pixel %v", pt)
	}
}

func TestBakeIsDeterministic(t *testing.T) {
	master := encodePNG(t, 32, 24, color.White)
	overlay := encodePNG(t, 32, 24, color.RGBA{G: 128, A: 200})

	first, err := Bake(master, overlay)
	require.NoError(t, err)
	second, err := Bake(master, overlay)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestBakeAllEqualsSuccessiveBakes(t *testing.T) {
	master := encodePNG(t, 24, 24, color.White)
	first := encodePNG(t, 12, 12, color.RGBA{R: 200, A: 150})
	second := encodePNG(t, 6, 6, color.RGBA{B: 200, A: 150})

	folded, err := BakeAll(master, [][]byte{first, second})
	require.NoError(t, err)

	step1, err := Bake(master, first)
	require.NoError(t, err)
	step2, err := Bake(step1, second)
	require.NoError(t, err)

	require.Equal(t, step2, folded)
}

func TestBakeAllWithoutOverlaysReturnsMaster(t *testing.T) {
	master := encodePNG(t, 10, 10, color.White)

	baked, err := BakeAll(master, nil)
	require.NoError(t, err)
	require.Equal(t, master, baked)
}

func TestBakeRejectsEmptyInputs(t *testing.T) {
	master := encodePNG(t, 10, 10, color.White)

	_, err := Bake(nil, master)
	require.ErrorIs(t, err, ErrEmptyDocument)

	_, err = Bake(master, nil)
	require.ErrorIs(t, err, ErrEmptyDocument)

	_, err = BakeAll(nil, [][]byte{master})
	require.ErrorIs(t, err, ErrEmptyDocument)
}

func TestBakeRejectsMalformedImage(t *testing.T) {
	master := encodePNG(t, 10, 10, color.White)

	_, err := Bake(master, []byte("not an image"))
	require.Error(t, err)
}
