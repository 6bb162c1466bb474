package rasterize

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, dir string, width, height int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.White)
		}
	}

	path := filepath.Join(dir, "page.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, png.Encode(f, img))
	return path
}

func TestDetectMediaType(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		declared string
		want     string
		wantErr  bool
	}{
		{name: "declared pdf wins", path: "form.bin", declared: "application/pdf", want: MediaTypePDF},
		{name: "declared png wins", path: "form.pdf", declared: "image/png", want: MediaTypePNG},
		{name: "extension pdf", path: "scan.PDF", declared: "", want: MediaTypePDF},
		{name: "extension jpeg", path: "scan.jpg", declared: "", want: MediaTypeJPEG},
		{name: "extension tiff", path: "scan.tif", declared: "", want: MediaTypeTIFF},
		{name: "unknown declared", path: "scan.png", declared: "application/zip", wantErr: true},
		{name: "unknown extension", path: "scan.docx", declared: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectMediaType(tt.path, tt.declared)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateSourcePath(t *testing.T) {
	dir := t.TempDir()

	err := ValidateSourcePath("")
	assert.Error(t, err)

	err = ValidateSourcePath(filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)

	err = ValidateSourcePath(dir)
	assert.Error(t, err)

	path := writeTestPNG(t, dir, 10, 10)
	assert.NoError(t, ValidateSourcePath(path))
}

func TestConvertImagePassthrough(t *testing.T) {
	dir := t.TempDir()
	path := writeTestPNG(t, dir, 64, 48)

	conv := NewConverter(Options{Quality: 90})
	defer conv.Cleanup()

	pages, err := conv.Convert(context.Background(), path, "image/png")
	require.NoError(t, err)
	require.Len(t, pages, 1)

	assert.Equal(t, 1, pages[0].PageNumber)
	assert.Equal(t, path, pages[0].ImagePath)
	assert.Equal(t, 64, pages[0].Width)
	assert.Equal(t, 48, pages[0].Height)

	// Cleanup must never remove a caller-owned source file.
	require.NoError(t, conv.Cleanup())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestConvertCorruptImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	conv := NewConverter(Options{Quality: 90})
	defer conv.Cleanup()

	_, err := conv.Convert(context.Background(), path, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptInput)
}

func TestConvertCorruptPDF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 garbage"), 0o644))

	conv := NewConverter(Options{Quality: 90})
	defer conv.Cleanup()

	_, err := conv.Convert(context.Background(), path, "application/pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptInput)
}

func TestConvertUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	conv := NewConverter(Options{Quality: 90})
	defer conv.Cleanup()

	_, err := conv.Convert(context.Background(), path, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
