package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/erazemk/knjiznica/internal/model"
)

func createTestJPEG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{255, 0, 0, 255})
		}
	}
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func createTransparentPNG(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func decode(t *testing.T, c *Cover) image.Image {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(c.Data))
	if err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	return img
}

func TestNormalizeJPEG(t *testing.T) {
	cover, err := NormalizeCover(bytes.NewReader(createTestJPEG(100, 150)))
	if err != nil {
		t.Fatalf("NormalizeCover: %v", err)
	}
	if cover.MIME != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", cover.MIME)
	}
	if cover.Width != 100 || cover.Height != 150 {
		t.Errorf("small cover should keep its size, got %dx%d", cover.Width, cover.Height)
	}
}

func TestNormalizePNGFlattensTransparency(t *testing.T) {
	cover, err := NormalizeCover(bytes.NewReader(createTransparentPNG(40, 40)))
	if err != nil {
		t.Fatalf("NormalizeCover: %v", err)
	}
	r, g, b, _ := decode(t, cover).At(20, 20).RGBA()
	if r>>8 < 240 || g>>8 < 240 || b>>8 < 240 {
		t.Errorf("expected a white background, got %d,%d,%d", r>>8, g>>8, b>>8)
	}
}

func TestNormalizeDownscalesLongSide(t *testing.T) {
	cover, err := NormalizeCover(bytes.NewReader(createTestJPEG(1600, 1000)))
	if err != nil {
		t.Fatalf("NormalizeCover: %v", err)
	}
	bounds := decode(t, cover).Bounds()
	if bounds.Dx() != MaxDimension || bounds.Dy() != 500 {
		t.Errorf("expected %dx500, got %dx%d", MaxDimension, bounds.Dx(), bounds.Dy())
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"text", []byte("not an image")},
		{"gif", []byte("GIF89a...")},
		{"truncated jpeg", createTestJPEG(20, 20)[:30]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeCover(bytes.NewReader(tt.data))
			if !errors.Is(err, model.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestNormalizeTooLarge(t *testing.T) {
	data := append([]byte("\xff\xd8\xff"), make([]byte, MaxUploadBytes)...)
	_, err := NormalizeCover(bytes.NewReader(data))
	if !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
