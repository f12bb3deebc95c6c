package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Device is an enumerable video source.
type Device struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Source enumerates video devices and grabs single frames on demand.
type Source interface {
	Devices(ctx context.Context) ([]Device, error)
	Frame(ctx context.Context, deviceID string) (image.Image, error)
}

// DirSource treats each subdirectory of Root as a camera and serves its
// image files as successive frames, cycling when exhausted.
type DirSource struct {
	Root string

	mu     sync.Mutex
	cursor map[string]int
}

// NewDirSource creates a DirSource rooted at root.
func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root, cursor: make(map[string]int)}
}

// Devices lists subdirectories that contain at least one image.
func (d *DirSource) Devices(ctx context.Context) ([]Device, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, fmt.Errorf("enumerate cameras: %w", err)
	}

	var devices []Device
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		frames, err := d.frames(e.Name())
		if err != nil || len(frames) == 0 {
			continue
		}
		devices = append(devices, Device{ID: e.Name(), Label: e.Name()})
	}
	return devices, nil
}

// Frame decodes the next image for deviceID.
func (d *DirSource) Frame(ctx context.Context, deviceID string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frames, err := d.frames(deviceID)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("camera %q has no frames", deviceID)
	}

	d.mu.Lock()
	idx := d.cursor[deviceID] % len(frames)
	d.cursor[deviceID] = idx + 1
	d.mu.Unlock()

	f, err := os.Open(frames[idx])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", filepath.Base(frames[idx]), err)
	}
	return img, nil
}

func (d *DirSource) frames(deviceID string) ([]string, error) {
	if deviceID == "" || strings.ContainsAny(deviceID, `/\`) || deviceID == ".." {
		return nil, fmt.Errorf("invalid camera id %q", deviceID)
	}
	dir := filepath.Join(d.Root, deviceID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
