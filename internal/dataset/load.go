package dataset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/leapstack-labs/leapask/internal/adapter"
	"github.com/leapstack-labs/leapask/internal/frame"
	"github.com/leapstack-labs/leapask/internal/starlark"
	"golang.org/x/sync/errgroup"
)

// Source names one CSV file to load.
type Source struct {
	Name        string `koanf:"name" json:"name"`
	File        string `koanf:"file" json:"file"`
	Description string `koanf:"description" json:"description,omitempty"`
}

// DefaultSources returns the standard store tables, one CSV per table under dir.
func DefaultSources(dir string) []Source {
	tables := []struct{ name, desc string }{
		{"products", "Products catalog with pricing and categories"},
		{"customers", "Customer information including loyalty tiers"},
		{"orders", "Order header information with totals and status"},
		{"order_items", "Line items for each order with quantities and prices"},
		{"inventory", "Current inventory levels across warehouses"},
		{"warehouses", "Warehouse information and locations"},
		{"marketing_campaigns", "Marketing campaign details and performance"},
	}
	sources := make([]Source, len(tables))
	for i, t := range tables {
		sources[i] = Source{Name: t.name, File: filepath.Join(dir, t.name+".csv"), Description: t.desc}
	}
	return sources
}

// Options configures Load.
type Options struct {
	// SampleRows is the number of rows kept for the schema context.
	// Zero means DefaultSampleRows; negative disables samples.
	SampleRows int
	// Relationships replaces DefaultRelationships when non-nil.
	Relationships []Relationship
	// Adapter configures the engine used to parse files. The type defaults
	// to duckdb.
	Adapter adapter.Config
	// Concurrency bounds the number of tables read at once. Zero means no limit.
	Concurrency int
	Logger      *slog.Logger
}

var (
	errNoDatasets = errors.New("no datasets configured")
	errDuplicate  = errors.New("duplicate dataset name")
	errEmptyFile  = errors.New("file is empty")

	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// DataLoadError reports a dataset that could not be loaded. It is fatal at
// startup.
type DataLoadError struct {
	Table string
	Path  string
	Err   error
}

func (e *DataLoadError) Error() string {
	switch {
	case e.Table == "":
		return fmt.Sprintf("loading datasets: %v", e.Err)
	case e.Path == "":
		return fmt.Sprintf("loading dataset %q: %v", e.Table, e.Err)
	}
	return fmt.Sprintf("loading dataset %q from %s: %v", e.Table, e.Path, e.Err)
}

func (e *DataLoadError) Unwrap() error { return e.Err }

func validName(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("dataset name %q is not a valid identifier", name)
	}
	if starlark.IsKeyword(name) {
		return fmt.Errorf("dataset name %q is a reserved word", name)
	}
	if starlark.IsBuiltin(name) {
		return fmt.Errorf("dataset name %q conflicts with builtin", name)
	}
	return nil
}

// Load reads every source into memory. Every listed file is required; the
// first failure is returned as a *DataLoadError.
func Load(ctx context.Context, sources []Source, opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if len(sources) == 0 {
		return nil, &DataLoadError{Err: errNoDatasets}
	}
	seen := make(map[string]bool, len(sources))
	for _, src := range sources {
		if err := validName(src.Name); err != nil {
			return nil, &DataLoadError{Table: src.Name, Path: src.File, Err: err}
		}
		if seen[src.Name] {
			return nil, &DataLoadError{Table: src.Name, Path: src.File, Err: errDuplicate}
		}
		seen[src.Name] = true
	}

	cfg := opts.Adapter
	if cfg.Type == "" {
		cfg.Type = "duckdb"
	}
	adp, err := adapter.NewAdapter(cfg, logger)
	if err != nil {
		return nil, &DataLoadError{Err: err}
	}
	if err := adp.Connect(ctx, cfg); err != nil {
		return nil, &DataLoadError{Err: err}
	}
	defer func() { _ = adp.Close() }()

	start := time.Now()
	datasets := make([]*Dataset, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}
	for i, src := range sources {
		g.Go(func() error {
			ds, err := loadOne(gctx, adp, src, opts.SampleRows)
			if err != nil {
				return &DataLoadError{Table: src.Name, Path: src.File, Err: err}
			}
			logger.Debug("dataset loaded",
				slog.String("name", ds.Name),
				slog.Int("rows", ds.Frame.NumRows()),
				slog.Int("columns", ds.Frame.NumCols()))
			datasets[i] = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rels := opts.Relationships
	if rels == nil {
		rels = DefaultRelationships()
	}
	reg, err := New(datasets, rels)
	if err != nil {
		return nil, err
	}
	if dropped := len(rels) - len(reg.Relationships()); dropped > 0 {
		logger.Debug("relationships dropped", slog.Int("count", dropped))
	}
	logger.Info("datasets loaded",
		slog.Int("count", len(datasets)),
		slog.Duration("duration", time.Since(start)))
	return reg, nil
}

func loadOne(ctx context.Context, adp adapter.Adapter, src Source, sampleRows int) (*Dataset, error) {
	info, err := os.Stat(src.File)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", src.File)
	}
	if info.Size() == 0 {
		return nil, errEmptyFile
	}
	if err := adp.LoadCSV(ctx, src.Name, src.File); err != nil {
		return nil, err
	}
	meta, err := adp.GetTableMetadata(ctx, src.Name)
	if err != nil {
		return nil, err
	}
	f, err := adp.ReadTable(ctx, src.Name)
	if err != nil {
		return nil, err
	}

	cols := make([]ColumnInfo, len(meta.Columns))
	for i, c := range meta.Columns {
		cols[i] = ColumnInfo{Name: c.Name, Type: c.Type}
	}
	f, cols, err = coerceDates(f, cols)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		Name:        src.Name,
		Description: src.Description,
		Source:      src.File,
		Frame:       f,
		Columns:     cols,
	}
	switch {
	case sampleRows == 0:
		ds.Samples = f.Head(DefaultSampleRows)
	case sampleRows < 0:
		ds.Samples = f.Head(0)
	default:
		ds.Samples = f.Head(sampleRows)
	}
	return ds, nil
}

// IsDateColumn reports whether a column name looks like it holds dates:
// it contains "date" or ends in "_at".
func IsDateColumn(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "date") || strings.HasSuffix(lower, "_at")
}

// coerceDates converts text columns with date-like names into timestamps when
// every non-null value parses. Other columns are left alone.
func coerceDates(f *frame.Frame, cols []ColumnInfo) (*frame.Frame, []ColumnInfo, error) {
	for i, info := range cols {
		col, ok := f.Column(info.Name)
		if !ok || col.Kind != frame.KindString || !IsDateColumn(info.Name) {
			continue
		}
		parsed, err := col.Cast(frame.KindTime)
		if err != nil {
			continue
		}
		if f, err = f.WithColumn(parsed); err != nil {
			return nil, nil, err
		}
		cols[i].Type = "TIMESTAMP"
	}
	return f, cols, nil
}
