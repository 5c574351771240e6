package model

import (
	"fmt"
	"os"
	"path/filepath"
)

// Files that make a component directory count as present: a compiled
// artifact marker or raw weights. A top-level manifest alone proves nothing.
var componentArtifacts = []string{"model.compiled", "weights.bin"}

// Storage resolves per-model on-disk roots and answers completeness.
type Storage interface {
	ModelRoot(id string) string
	Verify(desc Descriptor) error
	Delete(desc Descriptor) error
	Purge(desc Descriptor) error
}

// FSStorage keeps every model under <dir>/<model-id>/<component>/.
type FSStorage struct {
	dir string
}

func NewFSStorage(dir string) *FSStorage {
	return &FSStorage{dir: dir}
}

func (s *FSStorage) ModelRoot(id string) string {
	return filepath.Join(s.dir, id)
}

// Verify runs the completeness check: every required component subdirectory
// must exist and contain an artifact. The first missing component is
// reported; a manifest file at the root does not substitute for components.
func (s *FSStorage) Verify(desc Descriptor) error {
	root := s.ModelRoot(desc.ID)
	if _, err := os.Stat(root); err != nil {
		return &IncompleteError{ModelID: desc.ID, Component: "root"}
	}
	for _, component := range desc.Components {
		dir := filepath.Join(root, component)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return &IncompleteError{ModelID: desc.ID, Component: component}
		}
		if !hasArtifact(dir) {
			return &IncompleteError{ModelID: desc.ID, Component: component}
		}
	}
	return nil
}

func hasArtifact(dir string) bool {
	for _, name := range componentArtifacts {
		info, err := os.Stat(filepath.Join(dir, name))
		if err == nil && !info.IsDir() && info.Size() > 0 {
			return true
		}
	}
	return false
}

// Delete removes the model's on-disk artifacts. A partially blocked removal
// fails loudly so callers can surface it per model.
func (s *FSStorage) Delete(desc Descriptor) error {
	root := s.ModelRoot(desc.ID)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("delete model %s: %w", desc.ID, err)
	}
	return nil
}

// Purge removes a stale partial download before a fresh one starts. A
// complete model is left alone.
func (s *FSStorage) Purge(desc Descriptor) error {
	if s.Verify(desc) == nil {
		return nil
	}
	return s.Delete(desc)
}
