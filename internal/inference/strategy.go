// Package inference derives logical foreign keys from a scanned schema.
//
// Strategies are interchangeable: Heuristic works offline from naming
// conventions and declared constraints, Remote delegates to the metadata
// store's generation endpoint.
package inference

import (
	"context"

	"github.com/vitebski/mysql-model-detector/pkg/models"
)

// Input is what a strategy sees of a scan
type Input struct {
	ConnectionID int64
	Scan         models.ScanResult
}

// Strategy derives logical foreign keys for the scanned tables
type Strategy interface {
	Name() string
	Infer(ctx context.Context, in Input) (*models.DatabaseMetadata, error)
}

// Persisting is implemented by strategies whose result is already stored remotely
type Persisting interface {
	PersistsResult() bool
}

// PersistsResult reports whether s stores its own result
func PersistsResult(s Strategy) bool {
	p, ok := s.(Persisting)
	return ok && p.PersistsResult()
}

// RelationSet is an ordered set of relationships keyed by identity
type RelationSet struct {
	items []models.LogicalForeignKey
	index map[models.RelationKey]int
}

// NewRelationSet creates an empty relation set
func NewRelationSet() *RelationSet {
	return &RelationSet{index: make(map[models.RelationKey]int)}
}

// Add appends fk unless a relationship with the same identity exists
func (s *RelationSet) Add(fk models.LogicalForeignKey) bool {
	if _, exists := s.index[fk.Key()]; exists {
		return false
	}
	s.index[fk.Key()] = len(s.items)
	s.items = append(s.items, fk)
	return true
}

// Len returns the number of relationships in the set
func (s *RelationSet) Len() int {
	return len(s.items)
}

// List returns the relationships in insertion order
func (s *RelationSet) List() []models.LogicalForeignKey {
	out := make([]models.LogicalForeignKey, len(s.items))
	copy(out, s.items)
	return out
}

// Dedupe drops relationships whose identity already appeared earlier in fks
func Dedupe(fks []models.LogicalForeignKey) []models.LogicalForeignKey {
	set := NewRelationSet()
	for _, fk := range fks {
		set.Add(fk)
	}
	return set.List()
}
