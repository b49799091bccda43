// Package descriptor reads and rewrites package.json files without
// reordering their keys.
package descriptor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// FileName is the descriptor file inside every package tree.
const FileName = "package.json"

// Document is a JSON object whose keys keep their source order.
type Document struct {
	keys   []string
	values map[string]json.RawMessage
}

// Dependency is one entry of a dependency map.
type Dependency struct {
	Name    string
	Version string
}

// New returns an empty document.
func New() *Document {
	return &Document{values: map[string]json.RawMessage{}}
}

// Parse decodes a JSON object.
func Parse(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("parse descriptor: top-level value is not an object")
	}

	doc := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse descriptor: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("parse descriptor: unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse descriptor: value of %q: %w", key, err)
		}
		doc.put(key, raw)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	if _, err := dec.Token(); err == nil {
		return nil, errors.New("parse descriptor: trailing data after object")
	}
	return doc, nil
}

// Read parses the descriptor at path.
func Read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func (d *Document) put(key string, raw json.RawMessage) {
	if _, exists := d.values[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.values[key] = raw
}

// Keys returns the keys in document order.
func (d *Document) Keys() []string {
	return append([]string(nil), d.keys...)
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Raw returns the undecoded value of key.
func (d *Document) Raw(key string) (json.RawMessage, bool) {
	raw, ok := d.values[key]
	return raw, ok
}

// Get decodes the value of key into out. A missing key leaves out untouched
// and returns false.
func (d *Document) Get(key string, out any) (bool, error) {
	raw, ok := d.values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Set encodes value under key. An existing key keeps its position; a new
// key is appended.
func (d *Document) Set(key string, value any) error {
	raw, err := encode(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	d.put(key, raw)
	return nil
}

// Delete removes key.
func (d *Document) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	out := New()
	for _, k := range d.keys {
		out.put(k, append(json.RawMessage(nil), d.values[k]...))
	}
	return out
}

// Version returns the "version" field.
func (d *Document) Version() (string, error) {
	var v string
	ok, err := d.Get("version", &v)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return "", errors.New("descriptor has no version")
	}
	return v, nil
}

// SetVersion overwrites the "version" field.
func (d *Document) SetVersion(version string) error {
	return d.Set("version", version)
}

// Name returns the "name" field, or "".
func (d *Document) Name() string {
	var name string
	_, _ = d.Get("name", &name)
	return name
}

// OptionalDependencies returns optionalDependencies in document order.
func (d *Document) OptionalDependencies() ([]Dependency, error) {
	raw, ok := d.values["optionalDependencies"]
	if !ok {
		return nil, nil
	}
	sub, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("optionalDependencies: %w", err)
	}
	deps := make([]Dependency, 0, len(sub.keys))
	for _, name := range sub.keys {
		var version string
		if _, err := sub.Get(name, &version); err != nil {
			return nil, fmt.Errorf("optionalDependencies: %w", err)
		}
		deps = append(deps, Dependency{Name: name, Version: version})
	}
	return deps, nil
}

// SetOptionalDependencies replaces optionalDependencies with deps, in order.
func (d *Document) SetOptionalDependencies(deps []Dependency) error {
	sub := New()
	for _, dep := range deps {
		if err := sub.Set(dep.Name, dep.Version); err != nil {
			return err
		}
	}
	raw, err := sub.compact()
	if err != nil {
		return err
	}
	d.put("optionalDependencies", raw)
	return nil
}

// PinOptionalDependencies sets every optional dependency's version to
// version. Names and order are preserved; no entries are added.
func (d *Document) PinOptionalDependencies(version string) error {
	deps, err := d.OptionalDependencies()
	if err != nil {
		return err
	}
	if deps == nil {
		return nil
	}
	for i := range deps {
		deps[i].Version = version
	}
	return d.SetOptionalDependencies(deps)
}

func (d *Document) compact() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := encode(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(d.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON renders the document compactly in key order.
func (d *Document) MarshalJSON() ([]byte, error) {
	return d.compact()
}

// Bytes renders the document with two-space indentation and a trailing newline.
func (d *Document) Bytes() ([]byte, error) {
	compact, err := d.compact()
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// Write renders the document to path.
func (d *Document) Write(path string) error {
	data, err := d.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func encode(value any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
