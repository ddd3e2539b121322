// Package catalog loads topic schemas and source descriptors from disk.
//
// A catalog directory holds one directory per topic:
//
//	<root>/<topic>/schema.json        title and canonical fields
//	<root>/<topic>/**/meta.json       lists of source descriptors
//
// Every file is validated against an embedded JSON Schema, and every topic is
// checked against the transformation registry when loaded. Any problem is a
// *core.ConfigurationError.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/JonMunkholm/openpdi/internal/core"
)

const (
	schemaFile = "schema.json"
	sourceFile = "meta.json"
)

// Catalog is an immutable set of loaded topics.
type Catalog struct {
	topics map[string]*core.Topic
	ids    []string
}

type topicFile struct {
	Title  string                `json:"title"`
	Fields []core.CanonicalField `json:"fields"`
}

// Load reads the catalog rooted at dir.
func Load(dir string, reg *core.Registry) (*Catalog, error) {
	return LoadFS(os.DirFS(dir), reg)
}

// LoadFS reads a catalog from fsys.
func LoadFS(fsys fs.FS, reg *core.Registry) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, malformed("", "", fmt.Errorf("read catalog: %w", err))
	}

	c := &Catalog{topics: make(map[string]*core.Topic)}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := fs.Stat(fsys, path.Join(e.Name(), schemaFile)); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		topic, err := loadTopic(fsys, e.Name())
		if err != nil {
			return nil, err
		}
		if err := core.ValidateTopic(topic, reg); err != nil {
			return nil, err
		}
		c.topics[topic.ID] = topic
		c.ids = append(c.ids, topic.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

func loadTopic(fsys fs.FS, id string) (*core.Topic, error) {
	schemaPath := path.Join(id, schemaFile)
	data, err := fs.ReadFile(fsys, schemaPath)
	if err != nil {
		return nil, malformed(id, schemaPath, err)
	}
	if err := ValidateTopicFile(data); err != nil {
		return nil, malformed(id, schemaPath, err)
	}
	var tf topicFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, malformed(id, schemaPath, err)
	}

	topic := &core.Topic{ID: id, Title: tf.Title, Fields: tf.Fields}

	// WalkDir visits files in lexical order, which fixes the source order.
	err = fs.WalkDir(fsys, id, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != sourceFile {
			return nil
		}
		sources, err := loadSources(fsys, p)
		if err != nil {
			return malformed(id, p, err)
		}
		topic.Sources = append(topic.Sources, sources...)
		return nil
	})
	if err != nil {
		var ce *core.ConfigurationError
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, malformed(id, "", err)
	}
	return topic, nil
}

func loadSources(fsys fs.FS, p string) ([]core.SourceDescriptor, error) {
	data, err := fs.ReadFile(fsys, p)
	if err != nil {
		return nil, err
	}
	if err := ValidateSourceFile(data); err != nil {
		return nil, err
	}
	var sources []core.SourceDescriptor
	if err := json.Unmarshal(data, &sources); err != nil {
		return nil, err
	}
	return sources, nil
}

func malformed(topic, file string, err error) *core.ConfigurationError {
	if file != "" {
		err = fmt.Errorf("%s: %w", file, err)
	}
	return &core.ConfigurationError{Kind: core.ConfigMalformed, Topic: topic, Err: err}
}

// Topic returns the topic with the given id.
func (c *Catalog) Topic(id string) (*core.Topic, error) {
	t, ok := c.topics[id]
	if !ok {
		return nil, &core.ConfigurationError{
			Kind:  core.ConfigUnknownTopic,
			Topic: id,
			Err:   core.ErrUnknownTopic,
		}
	}
	return t, nil
}

// Topics returns every topic sorted by id.
func (c *Catalog) Topics() []*core.Topic {
	out := make([]*core.Topic, len(c.ids))
	for i, id := range c.ids {
		out[i] = c.topics[id]
	}
	return out
}

// Len returns the number of topics.
func (c *Catalog) Len() int { return len(c.ids) }
