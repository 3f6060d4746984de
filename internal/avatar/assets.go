package avatar

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// AssetLoader makes an asset ready for display.
type AssetLoader interface {
	Load(name string) error
}

// DirLoader checks that assets exist as regular files under Dir.
type DirLoader struct {
	Dir string
}

// Load implements [AssetLoader].
func (l DirLoader) Load(name string) error {
	if name == "" {
		return fmt.Errorf("avatar: empty asset name")
	}
	info, err := os.Stat(filepath.Join(l.Dir, filepath.FromSlash(name)))
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("avatar: %s: %w", name, fs.ErrInvalid)
	}
	return nil
}

// NopLoader accepts every asset.
type NopLoader struct{}

// Load implements [AssetLoader].
func (NopLoader) Load(string) error { return nil }

// LoaderFunc adapts a function to [AssetLoader].
type LoaderFunc func(name string) error

// Load implements [AssetLoader].
func (f LoaderFunc) Load(name string) error { return f(name) }
