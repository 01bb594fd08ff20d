package data

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/devricklin/feishu-console-bridge/internal/biz/domain"
	"github.com/devricklin/feishu-console-bridge/internal/biz/repo"
	"github.com/devricklin/feishu-console-bridge/internal/errs"
)

// documentCodec converts the document tree to and from one file format
type documentCodec interface {
	Decode(data []byte) (domain.Document, error)
	Encode(doc domain.Document) ([]byte, error)
}

type jsonCodec struct{}

func (jsonCodec) Decode(data []byte) (domain.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	// keep large ids exact
	dec.UseNumber()
	var doc domain.Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (jsonCodec) Encode(doc domain.Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

type yamlCodec struct{}

func (yamlCodec) Decode(data []byte) (domain.Document, error) {
	var doc domain.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (yamlCodec) Encode(doc domain.Document) ([]byte, error) {
	return yaml.Marshal(map[string]any(doc))
}

type tomlCodec struct{}

func (tomlCodec) Decode(data []byte) (domain.Document, error) {
	var doc map[string]any
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, err
	}
	return domain.Document(doc), nil
}

func (tomlCodec) Encode(doc domain.Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(map[string]any(doc)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func codecFor(path string) documentCodec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlCodec{}
	case ".toml":
		return tomlCodec{}
	default:
		return jsonCodec{}
	}
}

// documentRepo implements the Document repository on a local file
type documentRepo struct {
	path  string
	codec documentCodec
	mu    sync.Mutex
}

// NewDocumentRepo creates a document repository for path.
// The format follows the extension: .yaml/.yml, .toml, anything else is JSON.
func NewDocumentRepo(path string) repo.DocumentRepo {
	return &documentRepo{path: path, codec: codecFor(path)}
}

// Path returns the document path
func (r *documentRepo) Path() string {
	return r.path
}

// Load reads the document, writing the defaults first when the file is missing
func (r *documentRepo) Load(_ context.Context) (domain.Document, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := readDocument(r.path, r.codec)
	if errs.IsNotFound(err) {
		doc = domain.DefaultDocument()
		if err := r.write(doc); err != nil {
			return nil, false, err
		}
		return doc, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return doc, false, nil
}

// ReadDocument reads the document at path without creating it. A missing
// file is a not-found error.
func ReadDocument(path string) (domain.Document, error) {
	return readDocument(path, codecFor(path))
}

func readDocument(path string, codec documentCodec) (domain.Document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.New(errs.CodeConfigDocumentMissing, "configuration document does not exist", errs.Field("path", path))
	}
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeConfigDocumentRead, "read configuration document", errs.Field("path", path))
	}

	doc, err := codec.Decode(data)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeConfigDocumentFormat, "parse configuration document", errs.Field("path", path))
	}
	if doc == nil {
		doc = domain.Document{}
	}
	return doc, nil
}

// Save writes the whole document
func (r *documentRepo) Save(_ context.Context, doc domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write(doc)
}

// write replaces the file through a rename so readers never see half a document
func (r *documentRepo) write(doc domain.Document) error {
	data, err := r.codec.Encode(doc)
	if err != nil {
		return errs.Wrap(err, errs.CodeConfigDocumentFormat, "encode configuration document", errs.Field("path", r.path))
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.Wrap(err, errs.CodeConfigDocumentWrite, "create configuration directory", errs.Field("path", dir))
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return errs.Wrap(err, errs.CodeConfigDocumentWrite, "write configuration document", errs.Field("path", r.path))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap(err, errs.CodeConfigDocumentWrite, "write configuration document", errs.Field("path", r.path))
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(err, errs.CodeConfigDocumentWrite, "write configuration document", errs.Field("path", r.path))
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return errs.Wrap(err, errs.CodeConfigDocumentWrite, "write configuration document", errs.Field("path", r.path))
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return errs.Wrap(err, errs.CodeConfigDocumentWrite, "replace configuration document", errs.Field("path", r.path))
	}
	return nil
}
