// Package seed loads curated entities and relations from YAML files.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Harshitk-cp/integrity/internal/domain"
	"github.com/Harshitk-cp/integrity/internal/graph"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultSeed []byte

type Entity struct {
	Name     string       `yaml:"name"`
	Aliases  []string     `yaml:"aliases,omitempty"`
	Category string       `yaml:"category,omitempty"`
	Layer    domain.Layer `yaml:"layer,omitempty"`
	Weight   float64      `yaml:"weight,omitempty"`
}

type Relation struct {
	Subject  string       `yaml:"subject"`
	Relation string       `yaml:"relation"`
	Object   string       `yaml:"object"`
	Layer    domain.Layer `yaml:"layer,omitempty"`
	Weight   float64      `yaml:"weight,omitempty"`
}

type File struct {
	Source    string            `yaml:"source"`
	Kind      domain.SourceKind `yaml:"kind,omitempty"`
	Entities  []Entity          `yaml:"entities"`
	Relations []Relation        `yaml:"relations"`
}

type Result struct {
	Entities  int    `json:"entities"`
	Relations int    `json:"relations"`
	Version   uint64 `json:"version"`
}

// Parse decodes a seed document. Unknown fields are rejected.
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &File{}, nil
		}
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	f, err := Parse(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if f.Source == "" {
		f.Source = path
	}
	return f, nil
}

// Default returns the built-in seed.
func Default() *File {
	f, err := Parse(bytes.NewReader(defaultSeed))
	if err != nil {
		panic(fmt.Sprintf("built-in seed: %v", err))
	}
	return f
}

func (f *File) Validate() error {
	for i, e := range f.Entities {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("entity %d: empty name: %w", i, domain.ErrInvalidReference)
		}
	}
	for i, r := range f.Relations {
		if strings.TrimSpace(r.Subject) == "" || strings.TrimSpace(r.Object) == "" {
			return fmt.Errorf("relation %d: missing endpoint: %w", i, domain.ErrInvalidReference)
		}
		if strings.TrimSpace(r.Relation) == "" {
			return fmt.Errorf("relation %d: %w", i, domain.ErrInvalidRelation)
		}
	}
	return nil
}

// Apply ingests the whole file as one graph version. Relation endpoints that
// are not declared as entities must already exist in the store.
func (f *File) Apply(ctx context.Context, store *graph.Store) (*Result, error) {
	kind := f.Kind
	if kind == "" {
		kind = domain.SourceSeed
	}
	prov := domain.Provenance{Source: f.Source, Kind: kind}
	res := &Result{}

	err := store.Update(ctx, func(txn *graph.Txn) error {
		for _, e := range f.Entities {
			if _, err := txn.UpsertEntity(domain.EntitySpec{
				Name:       e.Name,
				Aliases:    e.Aliases,
				Category:   e.Category,
				Layer:      e.Layer,
				Weight:     e.Weight,
				Provenance: prov,
			}); err != nil {
				return fmt.Errorf("entity %q: %w", e.Name, err)
			}
			res.Entities++
		}
		for _, r := range f.Relations {
			if _, err := txn.UpsertRelation(domain.RelationSpec{
				Source:       domain.RefByName(r.Subject),
				Target:       domain.RefByName(r.Object),
				RelationType: domain.NormalizeRelation(r.Relation),
				Layer:        r.Layer,
				Weight:       r.Weight,
				Provenance:   prov,
			}); err != nil {
				return fmt.Errorf("relation %s %s %s: %w", r.Subject, r.Relation, r.Object, err)
			}
			res.Relations++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Version = store.Current().Version()
	return res, nil
}
