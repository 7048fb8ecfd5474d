package batch

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"volaudit/internal/models"
)

// Manifest records what a batch run produced
type Manifest struct {
	RunID     string          `yaml:"run_id"`
	Created   time.Time       `yaml:"created"`
	Reference string          `yaml:"reference,omitempty"`
	Images    []ManifestEntry `yaml:"images"`
}

// ManifestEntry describes one resampled image
type ManifestEntry struct {
	Input     string          `yaml:"input"`
	Output    string          `yaml:"output"`
	Thumbnail string          `yaml:"thumbnail,omitempty"`
	Geometry  models.Geometry `yaml:"geometry"`
	PixelType string          `yaml:"pixel_type"`
	Bytes     int64           `yaml:"bytes"`
	BLAKE3    string          `yaml:"blake3"`
}

// Save writes the manifest as YAML
func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// LoadManifest reads a manifest written by Save
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest %s: %w", path, err)
	}
	return &m, nil
}

// Verify recomputes the digest of every output and reports the first mismatch
func (m *Manifest) Verify() error {
	for _, e := range m.Images {
		sum, err := fileDigest(e.Output)
		if err != nil {
			return err
		}
		if sum != e.BLAKE3 {
			return fmt.Errorf("%s: digest %s does not match manifest %s", e.Output, sum, e.BLAKE3)
		}
	}
	return nil
}

// fileDigest returns the hex BLAKE3 digest of a file
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
