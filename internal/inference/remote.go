package inference

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-model-detector/internal/errs"
	"github.com/vitebski/mysql-model-detector/pkg/models"
)

// MetadataGenerator is the metadata store endpoint that infers and stores relationships
type MetadataGenerator interface {
	GenerateDatabaseMetadata(ctx context.Context, connectionID int64, tables []models.TableDescriptor, uniqueColumns []models.UniqueColumnRef) (*models.DatabaseMetadata, error)
}

// Remote delegates relationship inference to the metadata store
type Remote struct {
	Store  MetadataGenerator
	Logger *logrus.Logger
}

// NewRemote creates a remote strategy
func NewRemote(store MetadataGenerator, logger *logrus.Logger) *Remote {
	return &Remote{Store: store, Logger: logger}
}

func (r *Remote) Name() string { return "remote" }

// PersistsResult is true: the generation endpoint stores what it returns
func (r *Remote) PersistsResult() bool { return true }

// Infer sends the scanned tables and unique columns to the store
func (r *Remote) Infer(ctx context.Context, in Input) (*models.DatabaseMetadata, error) {
	if in.ConnectionID == 0 {
		return nil, errs.Validation("a saved connection id is required for remote inference")
	}

	r.Logger.Infof("Requesting relationship inference for connection %d (%d tables)", in.ConnectionID, len(in.Scan.Tables))
	metadata, err := r.Store.GenerateDatabaseMetadata(ctx, in.ConnectionID, in.Scan.Tables, in.Scan.UniqueColumns)
	if err != nil {
		return nil, err
	}

	metadata.ForeignKeys = Dedupe(metadata.ForeignKeys)
	return metadata, nil
}
