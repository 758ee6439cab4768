package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/vitebski/mysql-model-detector/pkg/models"
)

type generateRequest struct {
	ConnectionID int64                    `json:"connectionId"`
	Tables       []models.TableDescriptor `json:"tables"`
	UniqueCols   []string                 `json:"uniqueCols"`
}

type saveRequest struct {
	ConnectionID int64                      `json:"connectionId"`
	Tables       []models.TableDescriptor   `json:"tables"`
	ForeignKeys  []models.LogicalForeignKey `json:"foreignKeys"`
}

// ListConnections returns the saved connections
func (c *Client) ListConnections(ctx context.Context) ([]models.ConnectionConfig, error) {
	return call[[]models.ConnectionConfig](ctx, c, http.MethodGet, "/database/connections", nil)
}

// GetConnection returns one saved connection
func (c *Client) GetConnection(ctx context.Context, id int64) (*models.ConnectionConfig, error) {
	cfg, err := call[models.ConnectionConfig](ctx, c, http.MethodGet, connectionPath(id), nil)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConnection stores a new connection and returns it with its assigned id
func (c *Client) SaveConnection(ctx context.Context, cfg models.ConnectionConfig) (*models.ConnectionConfig, error) {
	saved, err := call[models.ConnectionConfig](ctx, c, http.MethodPost, "/database/connection", cfg)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// UpdateConnection replaces a saved connection
func (c *Client) UpdateConnection(ctx context.Context, cfg models.ConnectionConfig) (*models.ConnectionConfig, error) {
	saved, err := call[models.ConnectionConfig](ctx, c, http.MethodPut, connectionPath(cfg.ID), cfg)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

// DeleteConnection removes a saved connection
func (c *Client) DeleteConnection(ctx context.Context, id int64) error {
	_, err := call[json.RawMessage](ctx, c, http.MethodDelete, connectionPath(id), nil)
	return err
}

// GenerateDatabaseMetadata asks the store to infer and persist relationships for the scanned tables
func (c *Client) GenerateDatabaseMetadata(ctx context.Context, connectionID int64, tables []models.TableDescriptor, uniqueColumns []models.UniqueColumnRef) (*models.DatabaseMetadata, error) {
	uniqueCols := make([]string, 0, len(uniqueColumns))
	for _, ref := range uniqueColumns {
		uniqueCols = append(uniqueCols, ref.String())
	}

	metadata, err := call[models.DatabaseMetadata](ctx, c, http.MethodPost, "/database/generate-database-metadata", generateRequest{
		ConnectionID: connectionID,
		Tables:       tables,
		UniqueCols:   uniqueCols,
	})
	if err != nil {
		return nil, err
	}
	return &metadata, nil
}

// GetTablesWithColumns returns the tables persisted for a connection
func (c *Client) GetTablesWithColumns(ctx context.Context, connectionID int64) ([]models.TableDescriptor, error) {
	params := url.Values{}
	params.Set("connectionId", strconv.FormatInt(connectionID, 10))
	return call[[]models.TableDescriptor](ctx, c, http.MethodGet, "/database/tables-with-columns?"+params.Encode(), nil)
}

// SaveDatabaseMetadata persists an edited model for a connection
func (c *Client) SaveDatabaseMetadata(ctx context.Context, connectionID int64, metadata models.DatabaseMetadata) error {
	_, err := call[json.RawMessage](ctx, c, http.MethodPut, "/database/database-metadata", saveRequest{
		ConnectionID: connectionID,
		Tables:       metadata.Tables,
		ForeignKeys:  metadata.ForeignKeys,
	})
	return err
}

func connectionPath(id int64) string {
	return fmt.Sprintf("/database/connection/%d", id)
}
