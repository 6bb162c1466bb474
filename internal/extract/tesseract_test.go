package extract

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ensureTesseractAvailable skips the test when the tesseract binary is not
// reachable, so the suite runs on machines without the OCR toolchain.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func renderTextPNG(t *testing.T, text string) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 320, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 45),
	}
	d.DrawString(text)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestTesseractEngineRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	engine := NewTesseractEngine()
	res, err := engine.Recognize(context.Background(), Input{
		Image:      renderTextPNG(t, "Name: Jane Doe"),
		PageNumber: 1,
		Languages:  []string{"eng"},
		DPI:        300,
	})
	require.NoError(t, err)

	got := strings.ToLower(res.Text)
	assert.Contains(t, got, "jane")
	assert.Contains(t, got, "doe")
	assert.True(t, res.HasConfidence)
	assert.Greater(t, res.Confidence, 0.0)
}

func TestTesseractEngineBlankPage(t *testing.T) {
	ensureTesseractAvailable(t)

	img := image.NewRGBA(image.Rect(0, 0, 200, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	engine := NewTesseractEngine()
	res, err := engine.Recognize(context.Background(), Input{
		Image:      buf.Bytes(),
		PageNumber: 1,
		Languages:  []string{"eng"},
		DPI:        300,
	})

	// A blank page is a valid low-signal result, never an error.
	require.NoError(t, err)
	assert.Equal(t, "", res.Text)
}
