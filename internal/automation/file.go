package automation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Collection is the ordered list of automations stored in one file.
type Collection []Record

// File is an automations.yaml on disk.
type File struct {
	path string
}

// NewFile returns a File for path. Nothing is read until Load.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Load reads the collection. A missing file yields an empty collection; a file
// that exists but cannot be read or decoded is an error.
func (f *File) Load() (Collection, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Collection{}, nil
	}
	if err != nil {
		return nil, &FileError{Op: "read", Path: f.path, Err: err}
	}
	c, err := Decode(data)
	if err != nil {
		return nil, &FileError{Op: "decode", Path: f.path, Err: err}
	}
	return c, nil
}

// Save serializes c and atomically replaces the file. Serialization happens
// before the file is touched.
func (f *File) Save(c Collection) error {
	data, err := Encode(c)
	if err != nil {
		return &FileError{Op: "encode", Path: f.path, Err: err}
	}
	perm := fs.FileMode(0o644)
	if fi, err := os.Stat(f.path); err == nil {
		perm = fi.Mode().Perm()
	}
	if err := writeFileAtomic(f.path, data, perm); err != nil {
		return &FileError{Op: "write", Path: f.path, Err: err}
	}
	return nil
}

// Decode parses an automations document. Empty input and a YAML null decode
// to an empty collection. More than one document is an error.
func Decode(data []byte) (Collection, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Collection{}, nil
		}
		return nil, err
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return nil, err
		}
		return nil, errors.New("expected a single YAML document, found more")
	}
	root := contentNode(&doc)
	if root == nil || (root.Kind == yaml.ScalarNode && root.Tag == "!!null") {
		return Collection{}, nil
	}
	if root.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a sequence of automations, got %s", kindName(root))
	}
	out := make(Collection, 0, len(root.Content))
	for i, item := range root.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("automation %d: expected a mapping, got %s", i, kindName(item))
		}
		out = append(out, Record{node: item})
	}
	return out, nil
}

// Encode renders the collection as a YAML sequence.
func Encode(c Collection) ([]byte, error) {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: make([]*yaml.Node, 0, len(c))}
	for i, r := range c {
		if r.node == nil {
			return nil, fmt.Errorf("automation %d: empty record", i)
		}
		seq.Content = append(seq.Content, r.node)
	}
	if len(seq.Content) == 0 {
		seq.Style = yaml.FlowStyle
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(seq); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IDs returns the ids present in c.
func (c Collection) IDs() map[string]struct{} {
	out := make(map[string]struct{}, len(c))
	for _, r := range c {
		if id := r.ID(); id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}
