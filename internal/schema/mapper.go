// Package schema resolves the configured column-name mapping into concrete
// source to destination column pairs with per-column transforms.
package schema

import (
	"strings"

	"go.uber.org/zap"

	"github.com/jorgenin/expense-migration/internal/domain"
	"github.com/jorgenin/expense-migration/internal/errors"
	"github.com/jorgenin/expense-migration/internal/logging"
)

// ColumnMapping pairs a source column with its destination column.
// Neither side is ever a calculated column.
type ColumnMapping struct {
	Source    domain.Column
	Dest      domain.Column
	Directive Directive
	transform Transform
}

// Apply runs the mapping's transform on v.
func (m ColumnMapping) Apply(v domain.Value) (domain.Value, error) {
	if m.transform == nil {
		return v, nil
	}
	return m.transform(v)
}

// Dropped records a source column left out of the mapping.
type Dropped struct {
	Column domain.Column
	Reason string
}

// Plan is the resolved mapping.
type Plan struct {
	Mappings []ColumnMapping
	Dropped  []Dropped
}

// BySourceName returns the mapping whose source column is named name.
func (p *Plan) BySourceName(name string) (ColumnMapping, bool) {
	for _, m := range p.Mappings {
		if m.Source.Name == name {
			return m, true
		}
	}
	return ColumnMapping{}, false
}

// Input is everything the mapper needs.
type Input struct {
	Source []domain.Column
	Dest   []domain.Column
	// Names maps source column names to destination column names.
	Names map[string]string
	// Skip lists source column names that are never migrated.
	Skip []string
	// Transforms maps source column names to a named transform.
	Transforms map[string]string
}

// Mapper resolves Inputs into Plans.
type Mapper struct {
	registry *Registry
	logger   *zap.Logger
}

// NewMapper creates a Mapper using registry for named transforms.
func NewMapper(registry *Registry, logger *zap.Logger) *Mapper {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Mapper{registry: registry, logger: logging.OrNop(logger).Named("schema")}
}

// Resolve builds the column mapping. A column that cannot be mapped is
// dropped and recorded; only an empty result is an error.
func (m *Mapper) Resolve(in Input) (*Plan, error) {
	destByName := make(map[string]domain.Column, len(in.Dest))
	for _, col := range in.Dest {
		destByName[col.Name] = col
	}
	skip := make(map[string]bool, len(in.Skip))
	for _, name := range in.Skip {
		skip[name] = true
	}

	plan := &Plan{}
	drop := func(col domain.Column, reason string) {
		plan.Dropped = append(plan.Dropped, Dropped{Column: col, Reason: reason})
		m.logger.Debug("column dropped",
			zap.String(logging.FieldColumn, col.Name),
			zap.String("reason", reason))
	}

	for _, src := range in.Source {
		if src.Calculated {
			drop(src, "calculated source column")
			continue
		}
		if skip[src.Name] {
			drop(src, "skipped by configuration")
			continue
		}
		destName, ok := in.Names[src.Name]
		if !ok {
			drop(src, "no destination configured")
			continue
		}
		dest, ok := destByName[destName]
		if !ok {
			drop(src, "destination column "+destName+" not found")
			continue
		}
		if dest.Calculated {
			drop(src, "destination column "+destName+" is calculated")
			continue
		}

		mapping, err := m.resolveTransform(src, dest, in.Transforms[src.Name])
		if err != nil {
			return nil, err
		}
		plan.Mappings = append(plan.Mappings, mapping)
	}

	if len(plan.Mappings) == 0 {
		return nil, errors.Configuration(errors.WithHint(
			errors.New("column mapping is empty: nothing can be migrated"),
			"check mapping.columns against the source and destination column names"))
	}

	m.logger.Info("column mapping resolved",
		zap.Int("mapped", len(plan.Mappings)),
		zap.Int("dropped", len(plan.Dropped)))
	return plan, nil
}

// resolveTransform prefers a configured transform, then an automatic
// coercion when the declared types differ, then identity.
func (m *Mapper) resolveTransform(src, dest domain.Column, configured string) (ColumnMapping, error) {
	mapping := ColumnMapping{Source: src, Dest: dest, Directive: Directive{Kind: DirectiveIdentity}}

	if configured != "" {
		fn, ok := m.registry.Lookup(configured)
		if !ok {
			return ColumnMapping{}, errors.Configuration(errors.WithHintf(
				errors.Newf("column %q: unknown transform %q", src.Name, configured),
				"registered transforms: %s", strings.Join(m.registry.Names(), ", ")))
		}
		mapping.Directive = Directive{Kind: DirectiveNamed, Name: configured}
		mapping.transform = fn
		return mapping, nil
	}

	if src.Type != dest.Type {
		if name, ok := coercionFor(dest.Type); ok {
			fn, _ := m.registry.Lookup(name)
			mapping.Directive = Directive{Kind: DirectiveTypeCoerce, Name: name}
			mapping.transform = fn
		}
	}
	return mapping, nil
}
