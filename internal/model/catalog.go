package model

import "fmt"

// Descriptor is an immutable catalog entry for one model variant.
type Descriptor struct {
	ID          string
	DisplayName string
	DiskSizeMB  int
	MemoryMB    int
	DownloadID  string
	// Components are the required on-disk subdirectories. A model is
	// complete only when every component holds an artifact (see storage.go).
	Components []string
}

// Standard component layout shared by all whisper-style variants.
var defaultComponents = []string{"MelSpectrogram", "AudioEncoder", "TextDecoder"}

var catalog = []Descriptor{
	{
		ID:          "tiny-en",
		DisplayName: "Tiny (English)",
		DiskSizeMB:  75,
		MemoryMB:    390,
		DownloadID:  "whisper-tiny.en",
		Components:  defaultComponents,
	},
	{
		ID:          "base-en",
		DisplayName: "Base (English)",
		DiskSizeMB:  142,
		MemoryMB:    506,
		DownloadID:  "whisper-base.en",
		Components:  defaultComponents,
	},
	{
		ID:          "small-en",
		DisplayName: "Small (English)",
		DiskSizeMB:  466,
		MemoryMB:    852,
		DownloadID:  "whisper-small.en",
		Components:  defaultComponents,
	},
	{
		ID:          "medium-en",
		DisplayName: "Medium (English)",
		DiskSizeMB:  1500,
		MemoryMB:    2100,
		DownloadID:  "whisper-medium.en",
		Components:  defaultComponents,
	},
	{
		ID:          "large-v3-turbo",
		DisplayName: "Large v3 Turbo",
		DiskSizeMB:  1600,
		MemoryMB:    3900,
		DownloadID:  "whisper-large-v3-turbo",
		Components:  defaultComponents,
	},
}

// Catalog returns a copy of the built-in model variants.
func Catalog() []Descriptor {
	out := make([]Descriptor, len(catalog))
	copy(out, catalog)
	return out
}

// ByID looks up a catalog entry.
func ByID(id string) (Descriptor, error) {
	for _, d := range catalog {
		if d.ID == id {
			return d, nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
}
