// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// Package store persists the agent configuration: the scalar settings in
// minarca.properties and the includes/excludes pattern files. Every mutation
// is written through immediately with an atomic replace.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/magiconair/properties"
	"github.com/toeirei/minarca/internal/apierr"
	"github.com/toeirei/minarca/internal/logging"
	"github.com/toeirei/minarca/internal/patterns"
	"github.com/toeirei/minarca/internal/platform"
	"golang.org/x/text/encoding/charmap"
)

// Property names. External scripts read them, do not rename.
const (
	KeyComputerName = "computername"
	KeyUsername     = "username"
	KeyRemoteHost   = "remotehost"
)

const header = "# Backup configuration. Please do not change this configuration file manually.\n"

// Configuration is the scalar part of the agent settings. A nil field is
// unset; a pointer to "" is explicitly empty.
type Configuration struct {
	ComputerName *string
	Username     *string
	RemoteHost   *string
}

// Ptr returns a pointer to s, for building a Configuration.
func Ptr(s string) *string { return &s }

// Value dereferences p, returning "" when unset.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Complete reports whether all three fields are set and non-empty.
func (c Configuration) Complete() bool {
	return Value(c.ComputerName) != "" && Value(c.Username) != "" && Value(c.RemoteHost) != ""
}

func (c Configuration) fields() map[string]*string {
	return map[string]*string{
		KeyComputerName: c.ComputerName,
		KeyUsername:     c.Username,
		KeyRemoteHost:   c.RemoteHost,
	}
}

func configurationFrom(m map[string]string) Configuration {
	var c Configuration
	if v, ok := m[KeyComputerName]; ok {
		c.ComputerName = Ptr(v)
	}
	if v, ok := m[KeyUsername]; ok {
		c.Username = Ptr(v)
	}
	if v, ok := m[KeyRemoteHost]; ok {
		c.RemoteHost = Ptr(v)
	}
	return c
}

// Option customizes a Store.
type Option func(*Store)

// WithLineSeparator sets the terminator used in the pattern files.
func WithLineSeparator(eol string) Option {
	return func(s *Store) { s.eol = eol }
}

// Store is the durable key/value configuration of one agent directory. It
// is not safe for concurrent use; one process owns a directory.
type Store struct {
	dir    string
	eol    string
	values map[string]string
	write  func(path string, data []byte, mode os.FileMode) error
}

// Open returns a Store for dir and loads the properties file.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:    dir,
		eol:    "\n",
		values: map[string]string{},
		write:  WriteFileAtomic,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the configuration directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the location of a file inside the configuration directory.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// Load (re)reads minarca.properties. A missing or unreadable file yields an
// empty configuration and a warning; a file that cannot be decoded is a
// PersistFailure.
func (s *Store) Load() (Configuration, error) {
	path := s.Path(platform.PropertiesFile)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		logging.Warnf("can't load properties %s: %v", path, err)
		s.values = map[string]string{}
		return Configuration{}, nil
	case err != nil:
		return Configuration{}, apierr.Wrap(apierr.PersistFailure, "store.load", "read "+path, err)
	}

	l := &properties.Loader{Encoding: properties.ISO_8859_1, DisableExpansion: true}
	p, err := l.LoadBytes(data)
	if err != nil {
		return Configuration{}, apierr.Wrap(apierr.PersistFailure, "store.load", "corrupt "+path, err)
	}
	s.values = p.Map()
	return configurationFrom(s.values), nil
}

// Config returns the current scalar configuration.
func (s *Store) Config() Configuration {
	return configurationFrom(s.values)
}

// Get returns the value of key and whether it is set.
func (s *Store) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key, or removes the key when value is nil, and
// persists immediately. On failure the in-memory state is unchanged.
func (s *Store) Set(key string, value *string) error {
	return s.apply(map[string]*string{key: value})
}

// SetAll writes the three scalar fields in one atomic save. Nil fields are
// removed.
func (s *Store) SetAll(c Configuration) error {
	return s.apply(c.fields())
}

func (s *Store) apply(changes map[string]*string) error {
	next := make(map[string]string, len(s.values)+len(changes))
	for k, v := range s.values {
		next[k] = v
	}
	for k, v := range changes {
		if v == nil {
			delete(next, k)
		} else {
			next[k] = *v
		}
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.values = next
	return nil
}

// Save persists the current values.
func (s *Store) Save() error {
	return s.save(s.values)
}

func (s *Store) save(values map[string]string) error {
	data, err := encodeProperties(values)
	if err != nil {
		return apierr.Wrap(apierr.PersistFailure, "store.save", "encode properties", err)
	}
	path := s.Path(platform.PropertiesFile)
	if err := s.write(path, data, 0o600); err != nil {
		return apierr.Wrap(apierr.PersistFailure, "store.save", "fail to save config", err)
	}
	return nil
}

func encodeProperties(values map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := properties.NewProperties()
	p.DisableExpansion = true
	for _, k := range keys {
		if _, _, err := p.Set(k, values[k]); err != nil {
			return nil, fmt.Errorf("set %s: %w", k, err)
		}
	}
	// Write escapes runes above 0xFF and leaves the rest as text; the
	// encoder turns that text into single bytes.
	var b bytes.Buffer
	b.WriteString(header)
	if _, err := p.Write(&b, properties.ISO_8859_1); err != nil {
		return nil, err
	}
	return charmap.ISO8859_1.NewEncoder().Bytes(b.Bytes())
}

// Includes returns the include patterns. A missing file is an empty list.
func (s *Store) Includes() ([]patterns.Pattern, error) {
	return s.readPatterns(platform.IncludesFile)
}

// Excludes returns the exclude patterns. A missing file is an empty list.
func (s *Store) Excludes() ([]patterns.Pattern, error) {
	return s.readPatterns(platform.ExcludesFile)
}

// SetIncludes replaces the include patterns on disk.
func (s *Store) SetIncludes(ps []patterns.Pattern) error {
	return s.writePatterns(platform.IncludesFile, ps)
}

// SetExcludes replaces the exclude patterns on disk.
func (s *Store) SetExcludes(ps []patterns.Pattern) error {
	return s.writePatterns(platform.ExcludesFile, ps)
}

func (s *Store) readPatterns(name string) ([]patterns.Pattern, error) {
	path := s.Path(name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.PersistFailure, "store.patterns", "read "+path, err)
	}
	text, err := patterns.Decode(data)
	if err != nil {
		return nil, apierr.Wrap(apierr.PersistFailure, "store.patterns", "decode "+path, err)
	}
	return patterns.Parse(text), nil
}

// SetPatterns replaces both pattern files. Both lists are encoded before
// anything is written and the includes file is put back when the excludes
// cannot be saved.
func (s *Store) SetPatterns(inc, exc []patterns.Pattern) error {
	incData, err := s.encodePatterns(inc)
	if err != nil {
		return err
	}
	excData, err := s.encodePatterns(exc)
	if err != nil {
		return err
	}
	incPath := s.Path(platform.IncludesFile)
	prev, prevErr := os.ReadFile(incPath)
	if err := s.writePatternData(platform.IncludesFile, incData); err != nil {
		return err
	}
	if err := s.writePatternData(platform.ExcludesFile, excData); err != nil {
		switch {
		case prevErr == nil:
			_ = s.write(incPath, prev, 0o644)
		case errors.Is(prevErr, fs.ErrNotExist):
			_ = os.Remove(incPath)
		}
		return err
	}
	return nil
}

func (s *Store) encodePatterns(ps []patterns.Pattern) ([]byte, error) {
	return patterns.Encode(patterns.SerializeWith(ps, s.eol))
}

func (s *Store) writePatterns(name string, ps []patterns.Pattern) error {
	data, err := s.encodePatterns(ps)
	if err != nil {
		return err
	}
	return s.writePatternData(name, data)
}

func (s *Store) writePatternData(name string, data []byte) error {
	if err := s.write(s.Path(name), data, 0o644); err != nil {
		return apierr.Wrap(apierr.PersistFailure, "store.patterns", "fail to save "+name, err)
	}
	return nil
}
