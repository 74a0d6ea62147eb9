// Package manifest reads and writes Scoop application manifests.
//
// Manifests are kept as ordered JSON objects so that a rewrite only touches
// the fields automation owns (version, url, hash). Everything else, including
// key order and string escapes, survives a load/save cycle unchanged apart
// from indentation.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidManifest is returned when a manifest file cannot be parsed
var ErrInvalidManifest = errors.New("invalid manifest")

// Extension is the file extension of manifest files
const Extension = ".json"

// Indent is the indentation used when writing manifests
const Indent = "    "

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Manifest is a single application manifest.
type Manifest struct {
	// Name is the application name, derived from the file name
	Name string
	root *Object
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(NameFromPath(path), data)
}

// Parse parses manifest content. The document must be a JSON object that
// satisfies the manifest schema.
func Parse(name string, data []byte) (*Manifest, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	root, err := ParseObject(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, name, err)
	}
	if err := Validate(data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, name, err)
	}

	return &Manifest{Name: name, root: root}, nil
}

// NameFromPath returns the application name for a manifest file path.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); strings.EqualFold(ext, Extension) {
		return strings.TrimSuffix(base, ext)
	}
	return base
}

// Version returns the manifest's current version.
func (m *Manifest) Version() string {
	v, _ := m.root.String("version")
	return v
}

// Homepage returns the manifest's homepage URL.
func (m *Manifest) Homepage() string {
	v, _ := m.root.String("homepage")
	return v
}

// Checkver returns the manifest's version check rule, or nil when it has none.
func (m *Manifest) Checkver() (*Checkver, error) {
	raw, ok := m.root.Raw("checkver")
	if !ok {
		return nil, nil
	}
	return ParseCheckver(raw)
}

// Autoupdate returns the manifest's autoupdate templates, or nil when it has none.
func (m *Manifest) Autoupdate() (*Autoupdate, error) {
	raw, ok := m.root.Raw("autoupdate")
	if !ok {
		return nil, nil
	}
	return ParseAutoupdate(raw)
}

// Variants returns the architecture variants present in the manifest, in
// document order. A manifest with a root-level url reports the empty variant.
func (m *Manifest) Variants() []string {
	var variants []string
	if m.root.Has("url") {
		variants = append(variants, "")
	}
	if arch, ok := m.root.Object("architecture"); ok {
		variants = append(variants, arch.Keys()...)
	}
	return variants
}

// URL returns the download URL of a variant ("" for the root level).
func (m *Manifest) URL(variant string) string {
	obj, ok := m.variantObject(variant)
	if !ok {
		return ""
	}
	v, _ := obj.String("url")
	return v
}

// Hash returns the content hash of a variant ("" for the root level).
func (m *Manifest) Hash(variant string) string {
	obj, ok := m.variantObject(variant)
	if !ok {
		return ""
	}
	v, _ := obj.String("hash")
	return v
}

func (m *Manifest) variantObject(variant string) (*Object, bool) {
	if variant == "" {
		return m.root, true
	}
	arch, ok := m.root.Object("architecture")
	if !ok {
		return nil, false
	}
	return arch.Object(variant)
}

// SetVersion sets the manifest version.
func (m *Manifest) SetVersion(version string) error {
	return m.root.Set("version", version)
}

// SetDownload sets the url and hash of a variant together. The empty variant
// addresses the root-level url/hash pair. A missing architecture variant is
// created.
func (m *Manifest) SetDownload(variant, url, hash string) error {
	if variant == "" {
		if err := m.root.Set("url", url); err != nil {
			return err
		}
		return m.root.Set("hash", hash)
	}

	arch, ok := m.root.Object("architecture")
	if !ok {
		arch = NewObject()
	}
	entry, ok := arch.Object(variant)
	if !ok {
		entry = NewObject()
	}
	if err := entry.Set("url", url); err != nil {
		return err
	}
	if err := entry.Set("hash", hash); err != nil {
		return err
	}
	if err := arch.Set(variant, entry); err != nil {
		return err
	}
	return m.root.Set("architecture", arch)
}

// SetHash replaces the hash of an existing variant and leaves its url alone.
func (m *Manifest) SetHash(variant, hash string) error {
	obj, ok := m.variantObject(variant)
	if !ok {
		return fmt.Errorf("%w: no architecture variant %q", ErrInvalidManifest, variant)
	}
	if err := obj.Set("hash", hash); err != nil {
		return err
	}
	if variant == "" {
		return nil
	}
	arch, _ := m.root.Object("architecture")
	if err := arch.Set(variant, obj); err != nil {
		return err
	}
	return m.root.Set("architecture", arch)
}

// Clone returns an independent copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	return &Manifest{Name: m.Name, root: m.root.Clone()}
}

// Marshal renders the manifest with four-space indentation and a trailing newline.
func (m *Manifest) Marshal() ([]byte, error) {
	compact, err := m.root.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, compact, "", Indent); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Save writes the manifest to path through a temporary file and a rename,
// so readers never observe a half-written manifest.
func (m *Manifest) Save(path string) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}
