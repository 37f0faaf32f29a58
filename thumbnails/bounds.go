package thumbnails

import (
	"bytes"
	"fmt"
	"image"

	// Decoders for output formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// checkBounds returns an error if both thumbnail dimensions are known and one of
// them exceeds the max size. Unknown formats are accepted.
func checkBounds(data []byte, maxSize int) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil //nolint:nilerr
	}

	bounds := image.Rect(0, 0, cfg.Width, cfg.Height)
	if _, _, shouldResize := thumbnail(bounds, maxSize, maxSize); shouldResize {
		return fmt.Errorf(
			"%w: %s thumbnail is %dx%d, max size is %d",
			ErrConversionFailed, format, cfg.Width, cfg.Height, maxSize,
		)
	}
	return nil
}

// thumbnail calculates new width and height preserving original aspect ratio.
// If the current width and height are less than the max ones, it will return
// shouldResize = false.
//
// This function is based on [github.com/nfnt/resize.Thumbnail].
func thumbnail(bounds image.Rectangle, maxWidth, maxHeight int) (newWidth, newHeight int, shouldResize bool) {
	origWidth := bounds.Dx()
	origHeight := bounds.Dy()

	newWidth, newHeight = origWidth, origHeight

	// Resizing is not required.
	if maxWidth >= origWidth && maxHeight >= origHeight {
		return 0, 0, false
	}

	// Preserve aspect ratio.
	if origWidth > maxWidth {
		newHeight = origHeight * maxWidth / origWidth
		if newHeight < 1 {
			newHeight = 1
		}
		newWidth = maxWidth
	}
	if newHeight > maxHeight {
		newWidth = newWidth * maxHeight / newHeight
		if newWidth < 1 {
			newWidth = 1
		}
		newHeight = maxHeight
	}

	return newWidth, newHeight, true
}
