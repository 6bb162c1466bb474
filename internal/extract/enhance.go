package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// EnhanceImage prepares a scanned page for OCR: grayscale, upscale to a
// minimum width when the scan is small, then binarize with Otsu's threshold.
// The transform is pure and deterministic; identical input bytes always
// produce identical output bytes.
func EnhanceImage(data []byte, minWidth int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}

	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)

	if minWidth > 0 && gray.Bounds().Dx() < minWidth {
		gray = upscale(gray, minWidth)
	}

	binarize(gray, otsuThreshold(gray))

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encode enhanced image: %w", err)
	}
	return buf.Bytes(), nil
}

// upscale resizes the page so its width reaches minWidth, preserving aspect
// ratio. Tesseract accuracy drops sharply below ~300 DPI equivalents.
func upscale(src *image.Gray, minWidth int) *image.Gray {
	srcW := src.Bounds().Dx()
	srcH := src.Bounds().Dy()
	if srcW <= 0 || srcH <= 0 {
		return src
	}

	scale := float64(minWidth) / float64(srcW)
	dst := image.NewGray(image.Rect(0, 0, minWidth, int(float64(srcH)*scale+0.5)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// otsuThreshold picks the gray level that maximizes between-class variance.
func otsuThreshold(img *image.Gray) uint8 {
	var hist [256]int
	for _, p := range img.Pix {
		hist[p]++
	}

	total := len(img.Pix)
	if total == 0 {
		return 0
	}

	var sum float64
	for i, count := range hist {
		sum += float64(i) * float64(count)
	}

	var sumB, wB float64
	var maxVariance float64
	var threshold uint8

	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}

		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF

		variance := wB * wF * (mB - mF) * (mB - mF)
		if variance > maxVariance {
			maxVariance = variance
			threshold = uint8(t)
		}
	}

	return threshold
}

// binarize maps every pixel above the threshold to white, the rest to black.
func binarize(img *image.Gray, threshold uint8) {
	for i, p := range img.Pix {
		if p > threshold {
			img.Pix[i] = 255
		} else {
			img.Pix[i] = 0
		}
	}
}
