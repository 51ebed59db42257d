package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	"github.com/zombor/invoice-pipeline/internal/document"
)

// renderFirstPage renders page one of a PDF. Later pages are never considered.
func renderFirstPage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// decodeImage decodes JPEG, PNG, GIF and HEIC/HEIF images
func decodeImage(data []byte) (image.Image, error) {
	// Go's standard image package doesn't support HEIC (common on iPhones)
	if isHEICFormat(data) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// isPNGWithin reports whether data is already a PNG no larger than maxDimension
func isPNGWithin(data []byte, maxDimension int) bool {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || format != "png" {
		return false
	}
	return maxDimension <= 0 || (cfg.Width <= maxDimension && cfg.Height <= maxDimension)
}

// PreparePNG turns an Image or PageDocument blob into a single PNG, scaled
// down so neither side exceeds maxDimension (0 disables scaling).
func PreparePNG(blob document.Blob, maxDimension int) ([]byte, error) {
	var (
		img image.Image
		err error
	)
	switch blob.Kind() {
	case document.PageDocument:
		img, err = renderFirstPage(blob.Data)
	case document.Image:
		if isPNGWithin(blob.Data, maxDimension) {
			return blob.Data, nil
		}
		img, err = decodeImage(blob.Data)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrUnreadableImage, blob.Name, blob.Kind())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableImage, blob.Name, err)
	}

	if maxDimension > 0 {
		b := img.Bounds()
		if b.Dx() > maxDimension || b.Dy() > maxDimension {
			img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
