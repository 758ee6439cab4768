// Package detector sequences scan, inference and persistence of a model and
// holds the relationship working set the user edits afterwards.
package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-model-detector/internal/errs"
	"github.com/vitebski/mysql-model-detector/internal/inference"
	"github.com/vitebski/mysql-model-detector/pkg/models"
)

// DetectFailedMessage is the only failure text callers of Detect see
const DetectFailedMessage = "model generation failed, check connection configuration"

// State is the lifecycle state of an orchestrator
type State int

const (
	StateIdle State = iota
	StateDetecting
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SchemaScanner produces the catalog snapshot of a connection
type SchemaScanner interface {
	Scan(ctx context.Context, cfg models.ConnectionConfig) (*models.ScanResult, error)
}

// MetadataStore persists and returns detected models
type MetadataStore interface {
	GetTablesWithColumns(ctx context.Context, connectionID int64) ([]models.TableDescriptor, error)
	SaveDatabaseMetadata(ctx context.Context, connectionID int64, metadata models.DatabaseMetadata) error
}

// Orchestrator runs model detection and mediates edits of the detected relationships.
// A nil Store runs detection offline: nothing is persisted and Reload/Save are unavailable.
type Orchestrator struct {
	Scanner       SchemaScanner
	Strategy      inference.Strategy
	Store         MetadataStore
	Logger        *logrus.Logger
	DetectTimeout time.Duration

	mu           sync.Mutex
	state        State
	connectionID int64
	tables       []models.TableDescriptor
	relations    []models.LogicalForeignKey
	lastErr      error

	// generation advances each time Detect starts
	generation uint64
	// persisted holds the columns the store flagged as foreign keys on the last Reload
	persisted map[models.UniqueColumnRef]bool
}

// NewOrchestrator creates an idle orchestrator
func NewOrchestrator(scanner SchemaScanner, strategy inference.Strategy, store MetadataStore, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		Scanner:  scanner,
		Strategy: strategy,
		Store:    store,
		Logger:   logger,
	}
}

// Snapshot is the state and working model of an orchestrator
type Snapshot struct {
	State        State                      `json:"state"`
	ConnectionID int64                      `json:"connectionId"`
	Tables       []models.TableDescriptor   `json:"tables"`
	ForeignKeys  []models.LogicalForeignKey `json:"foreignKeys"`
}

// Detect scans cfg, infers its relationships and persists the result.
// Any failure leaves the orchestrator Failed and returns an error whose message is DetectFailedMessage;
// nothing is persisted unless every stage succeeded.
func (o *Orchestrator) Detect(ctx context.Context, cfg models.ConnectionConfig) (*models.DatabaseMetadata, error) {
	o.mu.Lock()
	if o.state == StateDetecting {
		o.mu.Unlock()
		return nil, errs.New(errs.ErrKindInvalidState, "detection already running")
	}
	o.state = StateDetecting
	o.lastErr = nil
	o.generation++
	o.persisted = nil
	o.mu.Unlock()

	if o.DetectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.DetectTimeout)
		defer cancel()
	}

	log := o.Logger.WithFields(logrus.Fields{
		"connection": cfg.Name,
		"strategy":   o.Strategy.Name(),
	})
	start := time.Now()

	metadata, err := o.detect(ctx, cfg)
	if err != nil {
		log.Errorf("Model detection failed: %v", err)
		o.mu.Lock()
		o.state = StateFailed
		o.lastErr = err
		o.tables = nil
		o.relations = nil
		o.mu.Unlock()
		return nil, errs.Wrap(errs.KindOf(err), DetectFailedMessage, err)
	}

	log.Infof("Detected %d tables and %d relationships in %v",
		len(metadata.Tables), len(metadata.ForeignKeys), time.Since(start))

	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = StateComplete
	o.connectionID = cfg.ID
	o.tables = metadata.Tables
	o.relations = metadata.ForeignKeys
	return o.modelLocked(), nil
}

func (o *Orchestrator) detect(ctx context.Context, cfg models.ConnectionConfig) (*models.DatabaseMetadata, error) {
	persist := o.Store != nil && !inference.PersistsResult(o.Strategy)
	if persist && cfg.ID == 0 {
		return nil, errs.Validation("a saved connection id is required to persist the model")
	}

	scan, err := o.Scanner.Scan(ctx, cfg)
	if err != nil {
		return nil, err
	}

	metadata, err := o.Strategy.Infer(ctx, inference.Input{ConnectionID: cfg.ID, Scan: *scan})
	if err != nil {
		return nil, err
	}

	result := &models.DatabaseMetadata{
		Tables:      copyTables(metadata.Tables),
		ForeignKeys: inference.Dedupe(metadata.ForeignKeys),
	}
	markForeignKeys(result.Tables, result.ForeignKeys, nil)

	if persist {
		if err := o.Store.SaveDatabaseMetadata(ctx, cfg.ID, *result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Reload restores the persisted tables of a connection without scanning.
// The relationship working set starts empty; columns keep the foreign key flags the store saved.
// A Detect started while the tables are fetched wins and the fetched tables are dropped.
func (o *Orchestrator) Reload(ctx context.Context, connectionID int64) (*models.DatabaseMetadata, error) {
	if o.Store == nil {
		return nil, errs.Validation("no metadata store configured")
	}
	if connectionID == 0 {
		return nil, errs.Validation("connection id is required")
	}

	o.mu.Lock()
	if o.state == StateDetecting {
		o.mu.Unlock()
		return nil, errs.New(errs.ErrKindInvalidState, "detection is running")
	}
	generation := o.generation
	o.mu.Unlock()

	tables, err := o.Store.GetTablesWithColumns(ctx, connectionID)
	if err != nil {
		o.Logger.Errorf("Error reloading tables for connection %d: %v", connectionID, err)
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != generation || o.state == StateDetecting {
		o.Logger.Warningf("Discarding reloaded tables for connection %d: detection started meanwhile", connectionID)
		return nil, errs.New(errs.ErrKindInvalidState, "detection started while reloading")
	}

	o.Logger.Infof("Reloaded %d tables for connection %d", len(tables), connectionID)

	o.state = StateComplete
	o.lastErr = nil
	o.connectionID = connectionID
	o.tables = copyTables(tables)
	o.relations = nil
	o.persisted = persistedForeignKeys(o.tables)
	markForeignKeys(o.tables, o.relations, o.persisted)
	return o.modelLocked(), nil
}

// Save persists the current working set
func (o *Orchestrator) Save(ctx context.Context) error {
	if o.Store == nil {
		return errs.Validation("no metadata store configured")
	}

	o.mu.Lock()
	if err := o.editableLocked(); err != nil {
		o.mu.Unlock()
		return err
	}
	if o.persisted != nil && len(o.relations) == 0 {
		o.mu.Unlock()
		return errs.New(errs.ErrKindInvalidState, "reloaded model has no relationships; saving it would clear the stored ones")
	}
	connectionID := o.connectionID
	model := *o.modelLocked()
	o.mu.Unlock()

	if connectionID == 0 {
		return errs.Validation("a saved connection id is required to persist the model")
	}

	if err := o.Store.SaveDatabaseMetadata(ctx, connectionID, model); err != nil {
		o.Logger.Errorf("Error saving model for connection %d: %v", connectionID, err)
		return err
	}

	o.Logger.Infof("Saved %d tables and %d relationships for connection %d",
		len(model.Tables), len(model.ForeignKeys), connectionID)
	return nil
}

// AddRelationship appends a manually specified relationship.
// An existing relationship with the same identity takes the new relation type instead.
func (o *Orchestrator) AddRelationship(fk models.LogicalForeignKey) (models.LogicalForeignKey, error) {
	if !fk.Complete() {
		return models.LogicalForeignKey{}, errs.Validation("source and target table and column are required")
	}
	if fk.RelationType == "" {
		fk.RelationType = models.ManyToOne
	}
	if !fk.RelationType.Valid() {
		return models.LogicalForeignKey{}, errs.Newf(errs.ErrKindValidation, "unknown relation type %q", fk.RelationType)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.editableLocked(); err != nil {
		return models.LogicalForeignKey{}, err
	}

	if i := o.indexLocked(fk.Key()); i >= 0 {
		o.relations[i].RelationType = fk.RelationType
		markForeignKeys(o.tables, o.relations, o.persisted)
		return o.relations[i], nil
	}

	o.relations = append(o.relations, fk)
	markForeignKeys(o.tables, o.relations, o.persisted)
	o.Logger.Debugf("Added relationship %s", fk)
	return fk, nil
}

// UpdateRelationship merges the non-empty fields of changes into the relationship identified by key.
// If the merged relationship now shares its identity with another entry, that entry is dropped.
func (o *Orchestrator) UpdateRelationship(key models.RelationKey, changes models.LogicalForeignKey) (models.LogicalForeignKey, error) {
	if changes.RelationType != "" && !changes.RelationType.Valid() {
		return models.LogicalForeignKey{}, errs.Newf(errs.ErrKindValidation, "unknown relation type %q", changes.RelationType)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.editableLocked(); err != nil {
		return models.LogicalForeignKey{}, err
	}

	i := o.indexLocked(key)
	if i < 0 {
		return models.LogicalForeignKey{}, errs.NotFound(fmt.Sprintf("relationship %s.%s -> %s.%s not found",
			key.SourceTable, key.SourceColumn, key.TargetTable, key.TargetColumn))
	}

	merged := merge(o.relations[i], changes)
	o.relations[i] = merged

	kept := o.relations[:0]
	for j, fk := range o.relations {
		if j != i && fk.SameRelation(merged) {
			continue
		}
		kept = append(kept, fk)
	}
	o.relations = kept

	markForeignKeys(o.tables, o.relations, o.persisted)
	return merged, nil
}

// RemoveRelationship deletes the relationship identified by key
func (o *Orchestrator) RemoveRelationship(key models.RelationKey) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.editableLocked(); err != nil {
		return err
	}

	i := o.indexLocked(key)
	if i < 0 {
		return errs.NotFound(fmt.Sprintf("relationship %s.%s -> %s.%s not found",
			key.SourceTable, key.SourceColumn, key.TargetTable, key.TargetColumn))
	}

	o.relations = append(o.relations[:i], o.relations[i+1:]...)
	markForeignKeys(o.tables, o.relations, o.persisted)
	return nil
}

// TableRelations returns the relationships in which table is the source or the target
func (o *Orchestrator) TableRelations(table string) []models.LogicalForeignKey {
	o.mu.Lock()
	defer o.mu.Unlock()

	result := []models.LogicalForeignKey{}
	for _, fk := range o.relations {
		if fk.SourceTableName == table || fk.TargetTableName == table {
			result = append(result, fk)
		}
	}
	return result
}

// State returns the current lifecycle state
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err returns the cause of the last failed detection
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Snapshot returns a copy of the state and working model
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	model := o.modelLocked()
	return Snapshot{
		State:        o.state,
		ConnectionID: o.connectionID,
		Tables:       model.Tables,
		ForeignKeys:  model.ForeignKeys,
	}
}

func (o *Orchestrator) editableLocked() error {
	if o.state != StateComplete {
		return errs.Newf(errs.ErrKindInvalidState, "relationships can only be edited after a completed detection (state: %s)", o.state)
	}
	return nil
}

func (o *Orchestrator) indexLocked(key models.RelationKey) int {
	for i, fk := range o.relations {
		if fk.Key() == key {
			return i
		}
	}
	return -1
}

func (o *Orchestrator) modelLocked() *models.DatabaseMetadata {
	relations := make([]models.LogicalForeignKey, len(o.relations))
	copy(relations, o.relations)
	return &models.DatabaseMetadata{
		Tables:      copyTables(o.tables),
		ForeignKeys: relations,
	}
}

func merge(fk, changes models.LogicalForeignKey) models.LogicalForeignKey {
	if changes.SourceTableName != "" {
		fk.SourceTableName = changes.SourceTableName
	}
	if changes.SourceColumnName != "" {
		fk.SourceColumnName = changes.SourceColumnName
	}
	if changes.TargetTableName != "" {
		fk.TargetTableName = changes.TargetTableName
	}
	if changes.TargetColumnName != "" {
		fk.TargetColumnName = changes.TargetColumnName
	}
	if changes.RelationType != "" {
		fk.RelationType = changes.RelationType
	}
	return fk
}

func copyTables(tables []models.TableDescriptor) []models.TableDescriptor {
	out := make([]models.TableDescriptor, len(tables))
	for i, table := range tables {
		out[i] = table
		out[i].Columns = make([]models.ColumnDescriptor, len(table.Columns))
		copy(out[i].Columns, table.Columns)
	}
	return out
}

// markForeignKeys flags every column that is the source of a relationship or listed in keep
func markForeignKeys(tables []models.TableDescriptor, relations []models.LogicalForeignKey, keep map[models.UniqueColumnRef]bool) {
	sources := make(map[models.UniqueColumnRef]bool, len(relations)+len(keep))
	for ref := range keep {
		sources[ref] = true
	}
	for _, fk := range relations {
		sources[models.UniqueColumnRef{TableName: fk.SourceTableName, ColumnName: fk.SourceColumnName}] = true
	}

	for i := range tables {
		for j := range tables[i].Columns {
			col := &tables[i].Columns[j]
			isForeignKey := sources[models.UniqueColumnRef{TableName: tables[i].TableName, ColumnName: col.ColumnName}]
			col.IsForeignKey = &isForeignKey
		}
	}
}

func persistedForeignKeys(tables []models.TableDescriptor) map[models.UniqueColumnRef]bool {
	keep := make(map[models.UniqueColumnRef]bool)
	for _, table := range tables {
		for _, col := range table.Columns {
			if col.IsForeignKey != nil && *col.IsForeignKey {
				keep[models.UniqueColumnRef{TableName: table.TableName, ColumnName: col.ColumnName}] = true
			}
		}
	}
	return keep
}
