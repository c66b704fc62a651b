// Package definition stores, validates and publishes versioned workflow
// schemas. Schemas are authored as YAML documents, loaded from disk, and
// published into a Store where each change becomes a new active version.
package definition

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/bugtriage/model"
)

// Document is a workflow schema parsed from a YAML source.
type Document struct {
	Schema     model.WorkflowSchema
	Checksum   string
	SourceFile string
}

// Loader scans directories for YAML schema documents.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a Document.
func (l *Loader) LoadAll(directories []string) ([]Document, error) {
	paths, err := SchemaFiles(directories)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(paths))
	for _, path := range paths {
		doc, err := l.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// SchemaFiles lists the schema files under directories in walk order.
func SchemaFiles(directories []string) ([]string, error) {
	var paths []string
	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isSchemaFile(path) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}
	return paths, nil
}

// LoadFile loads and parses a single YAML schema file.
func (l *Loader) LoadFile(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return l.Parse(data, path)
}

// Parse decodes a schema document and computes its SHA-256 checksum.
func (l *Loader) Parse(data []byte, source string) (Document, error) {
	var schema model.WorkflowSchema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return Document{}, fmt.Errorf("parsing %s: %w", source, err)
	}
	return Document{
		Schema:     schema,
		Checksum:   fmt.Sprintf("%x", sha256.Sum256(data)),
		SourceFile: source,
	}, nil
}

func isSchemaFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
