package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestDirSource_DevicesAndFrames(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"front", "empty"} {
		if err := os.Mkdir(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writePNG(t, filepath.Join(root, "front", "001.png"), 4, 2)
	writePNG(t, filepath.Join(root, "front", "002.png"), 6, 3)
	os.WriteFile(filepath.Join(root, "front", "notes.txt"), []byte("x"), 0o600)

	src := NewDirSource(root)
	devices, err := src.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "front" {
		t.Fatalf("expected only the front camera, got %+v", devices)
	}

	widths := []int{4, 6, 4}
	for i, want := range widths {
		img, err := src.Frame(context.Background(), "front")
		if err != nil {
			t.Fatalf("Frame %d: %v", i, err)
		}
		if got := img.Bounds().Dx(); got != want {
			t.Errorf("frame %d: expected width %d, got %d", i, want, got)
		}
	}
}

func TestDirSource_MissingRoot(t *testing.T) {
	src := NewDirSource(filepath.Join(t.TempDir(), "missing"))
	if _, err := src.Devices(context.Background()); err == nil {
		t.Error("expected error for missing root")
	}
}

func TestDirSource_RejectsPathIDs(t *testing.T) {
	src := NewDirSource(t.TempDir())
	for _, id := range []string{"", "..", "a/b"} {
		if _, err := src.Frame(context.Background(), id); err == nil {
			t.Errorf("expected error for camera id %q", id)
		}
	}
}

func TestEncodeJPEG_Downscales(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1280, 720))

	data, err := EncodeJPEG(img, 640, 0)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	out, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Bounds().Dx() != 640 || out.Bounds().Dy() != 360 {
		t.Errorf("expected 640x360, got %v", out.Bounds())
	}
}

func TestEncodeJPEG_KeepsSmallFrames(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 200))

	data, err := EncodeJPEG(img, 640, 90)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	out, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Bounds().Dx() != 320 {
		t.Errorf("expected width 320, got %d", out.Bounds().Dx())
	}
}
