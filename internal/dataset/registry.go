package dataset

import (
	"fmt"
	"sync"

	"github.com/leapstack-labs/leapask/internal/frame"
)

// Registry is the fixed set of datasets available to questions. It is built
// once and read concurrently without locking.
type Registry struct {
	datasets []*Dataset
	byName   map[string]*Dataset
	rels     []Relationship

	schemaOnce sync.Once
	schema     *SchemaContext
}

// New builds a registry from already constructed datasets. Missing columns
// and samples are derived from the frames.
func New(datasets []*Dataset, rels []Relationship) (*Registry, error) {
	if len(datasets) == 0 {
		return nil, &DataLoadError{Err: errNoDatasets}
	}
	r := &Registry{
		datasets: make([]*Dataset, 0, len(datasets)),
		byName:   make(map[string]*Dataset, len(datasets)),
		rels:     rels,
	}
	for _, ds := range datasets {
		if err := validName(ds.Name); err != nil {
			return nil, &DataLoadError{Table: ds.Name, Path: ds.Source, Err: err}
		}
		if _, dup := r.byName[ds.Name]; dup {
			return nil, &DataLoadError{Table: ds.Name, Path: ds.Source, Err: errDuplicate}
		}
		if ds.Frame == nil {
			return nil, &DataLoadError{Table: ds.Name, Path: ds.Source, Err: fmt.Errorf("dataset has no data")}
		}
		if ds.Columns == nil {
			ds.Columns = columnInfos(ds.Frame)
		}
		if ds.Samples == nil {
			ds.Samples = ds.Frame.Head(DefaultSampleRows)
		}
		r.datasets = append(r.datasets, ds)
		r.byName[ds.Name] = ds
	}
	return r, nil
}

// Datasets returns the datasets in configured order.
func (r *Registry) Datasets() []*Dataset {
	out := make([]*Dataset, len(r.datasets))
	copy(out, r.datasets)
	return out
}

// Get returns the named dataset.
func (r *Registry) Get(name string) (*Dataset, bool) {
	ds, ok := r.byName[name]
	return ds, ok
}

// Lookup is Get with an UnknownDatasetError for missing names.
func (r *Registry) Lookup(name string) (*Dataset, error) {
	if ds, ok := r.byName[name]; ok {
		return ds, nil
	}
	return nil, &UnknownDatasetError{Name: name, Available: r.Names()}
}

// Names returns the dataset names in configured order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.datasets))
	for i, ds := range r.datasets {
		names[i] = ds.Name
	}
	return names
}

// Frames returns the tables keyed by dataset name. Frames are shared and
// must not be modified.
func (r *Registry) Frames() map[string]*frame.Frame {
	out := make(map[string]*frame.Frame, len(r.datasets))
	for _, ds := range r.datasets {
		out[ds.Name] = ds.Frame
	}
	return out
}

// Relationships returns the relationships whose endpoints are registered.
func (r *Registry) Relationships() []Relationship {
	return r.SchemaContext().Relationships
}

// SchemaContext describes the registered tables. It is computed once.
func (r *Registry) SchemaContext() *SchemaContext {
	r.schemaOnce.Do(func() {
		sc := &SchemaContext{
			Tables:        make([]TableSchema, 0, len(r.datasets)),
			Relationships: []Relationship{},
		}
		for _, ds := range r.datasets {
			sc.Tables = append(sc.Tables, TableSchema{
				Name:        ds.Name,
				Description: ds.Description,
				RowCount:    ds.Frame.NumRows(),
				Columns:     ds.Columns,
				Samples:     ds.Samples,
			})
		}
		for _, rel := range r.rels {
			if r.hasColumn(rel.FromTable, rel.FromColumn) && r.hasColumn(rel.ToTable, rel.ToColumn) {
				sc.Relationships = append(sc.Relationships, rel)
			}
		}
		r.schema = sc
	})
	return r.schema
}

func (r *Registry) hasColumn(table, column string) bool {
	ds, ok := r.byName[table]
	return ok && ds.Frame.Has(column)
}

// Summary describes a dataset without its rows.
type Summary struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Source      string       `json:"source,omitempty"`
	Rows        int          `json:"rows"`
	Columns     []ColumnInfo `json:"columns"`
}

// Summaries returns one summary per dataset in configured order.
func (r *Registry) Summaries() []Summary {
	out := make([]Summary, len(r.datasets))
	for i, ds := range r.datasets {
		out[i] = Summary{
			Name:        ds.Name,
			Description: ds.Description,
			Source:      ds.Source,
			Rows:        ds.Frame.NumRows(),
			Columns:     ds.Columns,
		}
	}
	return out
}
