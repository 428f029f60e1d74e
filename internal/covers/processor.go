// Package covers normalizes uploaded cover images into the catalog's
// standard portrait format.
package covers

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	_ "image/png" // uploads arrive as JPEG or PNG
)

// Covers are center-cropped to a 13:18 portrait and scaled to a fixed size
// so the catalog grid lines up.
const (
	ratioW = 13
	ratioH = 18

	coverWidth  = 390
	coverHeight = 540

	jpegQuality = 85
)

// Processor writes processed covers under mediaDir/book_covers.
type Processor struct {
	mediaDir string
}

func NewProcessor(mediaDir string) *Processor {
	return &Processor{mediaDir: mediaDir}
}

// Save decodes, crops and scales the uploaded image and stores it as a JPEG.
// It returns the path relative to the media root, suitable for the book's
// cover_path field.
func (p *Processor) Save(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode cover image: %w", err)
	}

	processed := Normalize(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, processed, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode cover image: %w", err)
	}

	dir := filepath.Join(p.mediaDir, "book_covers")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create cover directory: %w", err)
	}

	name := uuid.NewString() + ".jpg"
	if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write cover image: %w", err)
	}
	return filepath.ToSlash(filepath.Join("book_covers", name)), nil
}

// Normalize center-crops the image to the cover aspect ratio and scales it
// to the standard dimensions.
func Normalize(img image.Image) image.Image {
	cropped := centerCrop(img)
	dst := image.NewRGBA(image.Rect(0, 0, coverWidth, coverHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, cropped, draw.Over, nil)
	return dst
}

// centerCrop computes the largest 13:18 rectangle centered in the image.
func centerCrop(img image.Image) image.Rectangle {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	cropW, cropH := w, h
	if w*ratioH > h*ratioW {
		// too wide: trim the sides
		cropW = h * ratioW / ratioH
	} else {
		// too tall: trim top and bottom
		cropH = w * ratioH / ratioW
	}

	x0 := b.Min.X + (w-cropW)/2
	y0 := b.Min.Y + (h-cropH)/2
	return image.Rect(x0, y0, x0+cropW, y0+cropH)
}
