package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

func TestNormalizeSmallImageUnchanged(t *testing.T) {
	data := encodePNG(t, testImage(100, 80))
	norm, err := Normalize(data, "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(norm.Data, data) {
		t.Fatal("in-limit image was re-encoded")
	}
	if norm.MimeType != "image/png" {
		t.Fatalf("mime changed to %s", norm.MimeType)
	}
	if norm.Width != 100 || norm.Height != 80 {
		t.Fatalf("got %dx%d", norm.Width, norm.Height)
	}
}

func TestNormalizeShrinksOversizedDimensions(t *testing.T) {
	data := encodePNG(t, testImage(3000, 1500))
	norm, err := Normalize(data, "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if norm.Width > MaxLongestSide || norm.Height > MaxLongestSide {
		t.Fatalf("still oversized: %dx%d", norm.Width, norm.Height)
	}
	if norm.MimeType != "image/jpeg" {
		t.Fatalf("re-encoded mime is %s, want image/jpeg", norm.MimeType)
	}
	if len(norm.Data) > len(data) {
		t.Fatal("output larger than input")
	}
	// Aspect ratio survives the resize.
	if norm.Width != 2*norm.Height {
		t.Fatalf("aspect ratio lost: %dx%d", norm.Width, norm.Height)
	}
}

func TestNormalizePortraitUsesLongestSide(t *testing.T) {
	data := encodePNG(t, testImage(1000, 2400))
	norm, err := Normalize(data, "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if norm.Height > MaxLongestSide {
		t.Fatalf("height still %d", norm.Height)
	}
}

func TestNormalizeGarbageInput(t *testing.T) {
	if _, err := Normalize([]byte("definitely not an image"), "image/png"); err == nil {
		t.Fatal("garbage input accepted")
	}
}

func TestNormalizeOutputDecodes(t *testing.T) {
	data := encodePNG(t, testImage(2600, 2600))
	norm, err := Normalize(data, "image/png")
	if err != nil {
		t.Fatal(err)
	}
	img, err := imaging.Decode(bytes.NewReader(norm.Data))
	if err != nil {
		t.Fatalf("normalized output does not decode: %v", err)
	}
	if img.Bounds().Dx() != norm.Width || img.Bounds().Dy() != norm.Height {
		t.Fatalf("reported %dx%d, decoded %dx%d",
			norm.Width, norm.Height, img.Bounds().Dx(), img.Bounds().Dy())
	}
}
