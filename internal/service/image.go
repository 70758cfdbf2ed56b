package service

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/set-night/dermassist/internal/config"
	"github.com/set-night/dermassist/internal/domain"
)

// ImageIngestor validates uploads and prepares them for the completion API.
// With a non-zero canvas every image is scaled to canvas×canvas and re-encoded as PNG.
type ImageIngestor struct {
	canvas int
}

func NewImageIngestor() *ImageIngestor {
	return &ImageIngestor{}
}

// NewNormalizingIngestor returns an ingestor for the standalone flow.
func NewNormalizingIngestor(canvas int) *ImageIngestor {
	return &ImageIngestor{canvas: canvas}
}

func (i *ImageIngestor) Ingest(raw []byte) (*domain.Image, error) {
	if len(raw) == 0 {
		return nil, domain.ErrEmptyInput
	}

	// Dimensions come from the header, before any pixel buffer is allocated.
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > config.MaxImagePixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", domain.ErrInvalidImage, cfg.Width, cfg.Height, config.MaxImagePixels)
	}

	if i.canvas > 0 {
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
		}
		return i.normalize(img)
	}

	return &domain.Image{
		Base64: base64.StdEncoding.EncodeToString(raw),
		MIME:   "image/" + format,
		Width:  cfg.Width,
		Height: cfg.Height,
		Size:   len(raw),
	}, nil
}

// Normalize decodes raw and re-encodes it on a canvas×canvas PNG.
func Normalize(raw []byte, canvas int) (*domain.Image, error) {
	return NewNormalizingIngestor(canvas).Ingest(raw)
}

func (i *ImageIngestor) normalize(src image.Image) (*domain.Image, error) {
	dst := image.NewRGBA(image.Rect(0, 0, i.canvas, i.canvas))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	return &domain.Image{
		Base64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MIME:   "image/png",
		Width:  i.canvas,
		Height: i.canvas,
		Size:   buf.Len(),
	}, nil
}
