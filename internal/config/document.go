// Package config loads and mutates the proxy daemon's runtime YAML
// configuration. The document is kept as an ordered mapping so fields this
// tool does not recognize survive a rewrite byte-for-byte in content and
// order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	yaml "gopkg.in/yaml.v2"
)

// Document is the runtime configuration, an ordered YAML mapping.
type Document struct {
	root yaml.MapSlice
}

// New returns an empty mapping document.
func New() *Document {
	return &Document{}
}

// LoadOrInit loads path, creating parent directories and an empty mapping
// document first when the file is absent.
func LoadOrInit(path string) (*Document, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
			return nil, fmt.Errorf("initializing config file %s: %w", path, err)
		}
	}
	return Load(path)
}

// Load parses an existing file. A syntactically valid document whose top
// level is not a mapping is normalized to an empty mapping in memory; it is
// only written back if a mutation follows.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data, path)
}

// IsNotExist reports whether err came from loading a config file that does
// not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Parse decodes data into a Document. The name is used in error messages.
func Parse(data []byte, name string) (*Document, error) {
	var root yaml.MapSlice
	if err := yaml.Unmarshal(data, &root); err != nil {
		var scalar interface{}
		if yaml.Unmarshal(data, &scalar) == nil {
			// Valid YAML, non-mapping root.
			return &Document{}, nil
		}
		return nil, fmt.Errorf("parsing YAML %s: %w", name, err)
	}
	return &Document{root: root}, nil
}

// Save serializes the document and overwrites path.
func (d *Document) Save(path string) error {
	data, err := yaml.Marshal(d.root)
	if err != nil {
		return fmt.Errorf("serializing YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// Bool returns the bool at the given key path.
func (d *Document) Bool(path ...string) (bool, bool) {
	v, ok := d.lookup(path)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// String returns the string at the given key path.
func (d *Document) String(path ...string) (string, bool) {
	v, ok := d.lookup(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Uint16 returns the port-sized integer at the given key path. Numeric
// strings are accepted, matching what subscription renderers emit.
func (d *Document) Uint16(path ...string) (uint16, bool) {
	v, ok := d.lookup(path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		if n >= 0 && n <= 65535 {
			return uint16(n), true
		}
	case int64:
		if n >= 0 && n <= 65535 {
			return uint16(n), true
		}
	case uint64:
		if n <= 65535 {
			return uint16(n), true
		}
	case string:
		if parsed, err := strconv.ParseUint(n, 10, 16); err == nil {
			return uint16(parsed), true
		}
	}
	return 0, false
}

// Set writes value at the key path, creating intermediate mappings and
// replacing non-mapping intermediates as needed.
func (d *Document) Set(value interface{}, path ...string) {
	d.root = setPath(d.root, path, value, false)
}

// SetDefault writes value at the key path only when the final key is not
// already present. Used for fields that must not clobber a user's or
// subscription's existing choice.
func (d *Document) SetDefault(value interface{}, path ...string) {
	d.root = setPath(d.root, path, value, true)
}

// Has reports whether the key path resolves to any value.
func (d *Document) Has(path ...string) bool {
	_, ok := d.lookup(path)
	return ok
}

func (d *Document) lookup(path []string) (interface{}, bool) {
	var cur interface{} = d.root
	for _, key := range path {
		ms, ok := cur.(yaml.MapSlice)
		if !ok {
			return nil, false
		}
		found := false
		for _, item := range ms {
			if k, ok := item.Key.(string); ok && k == key {
				cur = item.Value
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return cur, true
}

func setPath(ms yaml.MapSlice, path []string, value interface{}, onlyIfAbsent bool) yaml.MapSlice {
	key := path[0]
	for i, item := range ms {
		k, ok := item.Key.(string)
		if !ok || k != key {
			continue
		}
		if len(path) == 1 {
			if !onlyIfAbsent {
				ms[i].Value = value
			}
			return ms
		}
		child, ok := item.Value.(yaml.MapSlice)
		if !ok {
			child = yaml.MapSlice{}
		}
		ms[i].Value = setPath(child, path[1:], value, onlyIfAbsent)
		return ms
	}
	if len(path) == 1 {
		return append(ms, yaml.MapItem{Key: key, Value: value})
	}
	return append(ms, yaml.MapItem{
		Key:   key,
		Value: setPath(yaml.MapSlice{}, path[1:], value, onlyIfAbsent),
	})
}
