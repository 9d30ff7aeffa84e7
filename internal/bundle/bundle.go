// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package bundle writes a support archive of the agent configuration: a
// Zstandard-compressed tar holding the non-secret files plus a JSON
// manifest. Private keys are never included.
package bundle

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/toeirei/minarca/internal/platform"
)

// ManifestName is the archive entry describing the bundle.
const ManifestName = "manifest.json"

// Files lists the configuration files copied from the config directory.
var Files = []string{
	platform.PropertiesFile,
	platform.IncludesFile,
	platform.ExcludesFile,
	platform.PublicKeyFile,
}

var secret = map[string]bool{
	platform.PEMKeyFile:   true,
	platform.PuttyKeyFile: true,
}

// Manifest is stored as manifest.json at the root of the archive.
type Manifest struct {
	Version     string    `json:"version"`
	Platform    string    `json:"platform"`
	State       string    `json:"state"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Created     time.Time `json:"created"`
	Files       []string  `json:"files"`
}

// Source describes what goes into a bundle.
type Source struct {
	Dir string
	// Extra are additional files (e.g. the agent settings file) stored
	// under their base name.
	Extra    []string
	Manifest Manifest
}

// Write streams the bundle to w and returns the archived file names.
// Missing files are skipped.
func Write(w io.Writer, src Source) ([]string, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("could not create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	var paths []string
	for _, name := range Files {
		paths = append(paths, filepath.Join(src.Dir, name))
	}
	paths = append(paths, src.Extra...)

	var added []string
	for _, p := range paths {
		name := filepath.Base(p)
		if secret[name] {
			continue
		}
		data, info, err := readFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			_ = zw.Close()
			return nil, err
		}
		if err := addEntry(tw, name, data, info.ModTime()); err != nil {
			_ = zw.Close()
			return nil, err
		}
		added = append(added, name)
	}

	m := src.Manifest
	m.Files = append([]string(nil), added...)
	if m.Created.IsZero() {
		m.Created = time.Now().UTC()
	}
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("could not encode manifest: %w", err)
	}
	if err := addEntry(tw, ManifestName, body, m.Created); err != nil {
		_ = zw.Close()
		return nil, err
	}

	if err := tw.Close(); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("could not finish tar stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("could not finish zstd stream: %w", err)
	}
	return added, nil
}

// WriteFile creates path and writes the bundle into it.
func WriteFile(path string, src Source) ([]string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not create file: %w", err)
	}
	added, err := Write(f, src)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return added, nil
}

func readFile(p string) ([]byte, os.FileInfo, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("%s is not a regular file", p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, nil, fmt.Errorf("could not read %s: %w", p, err)
	}
	return data, info, nil
}

func addEntry(tw *tar.Writer, name string, data []byte, mod time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: mod,
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("could not write header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("could not write %s: %w", name, err)
	}
	return nil
}

// Read decodes a bundle, returning the manifest and the file contents.
func Read(r io.Reader) (*Manifest, map[string][]byte, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("could not create zstd reader: %w", err)
	}
	defer zr.Close()

	files := map[string][]byte{}
	var m *Manifest
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("could not read tar stream: %w", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, fmt.Errorf("could not read %s: %w", hdr.Name, err)
		}
		if hdr.Name == ManifestName {
			m = &Manifest{}
			if err := json.Unmarshal(data, m); err != nil {
				return nil, nil, fmt.Errorf("could not decode manifest: %w", err)
			}
			continue
		}
		files[hdr.Name] = data
	}
	if m == nil {
		return nil, nil, errors.New("bundle has no manifest")
	}
	return m, files, nil
}

// Names returns the sorted file names of a Read result.
func Names(files map[string][]byte) []string {
	out := make([]string, 0, len(files))
	for n := range files {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
