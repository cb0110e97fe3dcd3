package compositor

import (
	"bytes"
	"errors"
	"image"

	"github.com/disintegration/imaging"
)

// ErrEmptyDocument is returned when the master document or overlay is empty
var ErrEmptyDocument = errors.New("compositor: empty document")

// Bake composites one annotation overlay onto a master page image. The
// overlay is scaled to exactly cover the master's dimensions before
// compositing, and the result is re-encoded as PNG. The encoding is
// deterministic: identical inputs produce identical bytes, so a signed
// artifact is always reconstructible from the master and overlay history.
func Bake(master, overlay []byte) ([]byte, error) {
	if len(master) == 0 || len(overlay) == 0 {
		return nil, ErrEmptyDocument
	}

	masterImg, err := imaging.Decode(bytes.NewReader(master))
	if err != nil {
		return nil, err
	}

	overlayImg, err := imaging.Decode(bytes.NewReader(overlay))
	if err != nil {
		return nil, err
	}

	bounds := masterImg.Bounds()
	scaled := imaging.Resize(overlayImg, bounds.Dx(), bounds.Dy(), imaging.Lanczos)
	composited := imaging.Overlay(masterImg, scaled, image.Pt(0, 0), 1.0)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, composited, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BakeAll rebuilds the signed artifact from scratch: it starts from the
// immutable master and folds every overlay in chronological order, piping
// each bake's output into the next. Equivalent to successive single-overlay
// bakes starting fresh from the master.
func BakeAll(master []byte, overlays [][]byte) ([]byte, error) {
	if len(master) == 0 {
		return nil, ErrEmptyDocument
	}

	current := master
	for _, overlay := range overlays {
		baked, err := Bake(current, overlay)
		if err != nil {
			return nil, err
		}
		current = baked
	}
	return current, nil
}
