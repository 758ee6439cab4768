package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitebski/mysql-model-detector/internal/errs"
	"github.com/vitebski/mysql-model-detector/pkg/models"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:    srv.URL + "/",
		Token:      "secret",
		Retries:    2,
		RetryDelay: time.Millisecond,
	}, newTestLogger())
}

func writeEnvelope(t *testing.T, w http.ResponseWriter, code int, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    code,
		"data":    data,
		"message": message,
	}))
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://store/api/", Retries: -1}, newTestLogger())

	assert.Equal(t, "http://store/api", c.BaseURL)
	assert.Equal(t, DefaultTimeout, c.HTTPClient.Timeout)
	assert.Equal(t, DefaultRetryDelay, c.RetryDelay)
	assert.Zero(t, c.Retries)
}

func TestGenerateDatabaseMetadata(t *testing.T) {
	fk := models.LogicalForeignKey{
		SourceTableName: "orders", SourceColumnName: "user_id",
		TargetTableName: "users", TargetColumnName: "id",
		RelationType: models.ManyToOne,
	}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/database/generate-database-metadata", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			ConnectionID int64                    `json:"connectionId"`
			Tables       []models.TableDescriptor `json:"tables"`
			UniqueCols   []string                 `json:"uniqueCols"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(7), body.ConnectionID)
		assert.Len(t, body.Tables, 1)
		assert.Equal(t, []string{"users.id", "users.email"}, body.UniqueCols)

		writeEnvelope(t, w, 200, models.DatabaseMetadata{Tables: body.Tables, ForeignKeys: []models.LogicalForeignKey{fk}}, "ok")
	})

	metadata, err := c.GenerateDatabaseMetadata(context.Background(), 7,
		[]models.TableDescriptor{{TableName: "users", Columns: []models.ColumnDescriptor{}}},
		[]models.UniqueColumnRef{{TableName: "users", ColumnName: "id"}, {TableName: "users", ColumnName: "email"}})
	require.NoError(t, err)
	assert.Equal(t, []models.LogicalForeignKey{fk}, metadata.ForeignKeys)
}

func TestEnvelopeFailureIsRemoteStoreError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(t, w, 500, nil, "connection 7 has no tables")
	})

	_, err := c.GetTablesWithColumns(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, errs.IsRemoteStore(err))
	assert.Equal(t, "connection 7 has no tables", errs.MessageOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "envelope failures are not retried")
}

func TestServerErrorsAreRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "7", r.URL.Query().Get("connectionId"))
		writeEnvelope(t, w, 200, []models.TableDescriptor{{TableName: "users"}}, "")
	})

	tables, err := c.GetTablesWithColumns(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "users", tables[0].TableName)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetriesExhausted(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.ListConnections(context.Background())
	require.Error(t, err)
	assert.True(t, errs.IsRemoteStore(err))
	assert.Equal(t, "metadata store unreachable", errs.MessageOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.GetConnection(context.Background(), 1)
	assert.True(t, errs.IsRemoteStore(err))
	assert.Equal(t, "metadata store rejected the token", errs.MessageOf(err))
}

func TestConnectionCRUD(t *testing.T) {
	stored := models.ConnectionConfig{ID: 3, Name: "shop", Engine: models.EngineMySQL, Host: "db", Port: "3306", DatabaseName: "shop", Username: "root"}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/database/connections":
			writeEnvelope(t, w, 200, []models.ConnectionConfig{stored}, "")
		case r.Method == http.MethodGet && r.URL.Path == "/database/connection/3":
			writeEnvelope(t, w, 200, stored, "")
		case r.Method == http.MethodPost && r.URL.Path == "/database/connection":
			var cfg models.ConnectionConfig
			require.NoError(t, json.NewDecoder(r.Body).Decode(&cfg))
			cfg.ID = 3
			writeEnvelope(t, w, 200, cfg, "")
		case r.Method == http.MethodPut && r.URL.Path == "/database/connection/3":
			var cfg models.ConnectionConfig
			require.NoError(t, json.NewDecoder(r.Body).Decode(&cfg))
			writeEnvelope(t, w, 200, cfg, "")
		case r.Method == http.MethodDelete && r.URL.Path == "/database/connection/3":
			writeEnvelope(t, w, 200, true, "deleted")
		default:
			writeEnvelope(t, w, 404, nil, "not found")
		}
	})
	ctx := context.Background()

	list, err := c.ListConnections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.ConnectionConfig{stored}, list)

	got, err := c.GetConnection(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, stored, *got)

	draft := stored
	draft.ID = 0
	saved, err := c.SaveConnection(ctx, draft)
	require.NoError(t, err)
	assert.Equal(t, int64(3), saved.ID)

	stored.Host = "replica"
	updated, err := c.UpdateConnection(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, "replica", updated.Host)

	require.NoError(t, c.DeleteConnection(ctx, 3))

	_, err = c.GetConnection(ctx, 99)
	assert.True(t, errs.IsRemoteStore(err))
}

func TestSaveDatabaseMetadata(t *testing.T) {
	var body map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/database/database-metadata", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeEnvelope(t, w, 200, nil, "saved")
	})

	err := c.SaveDatabaseMetadata(context.Background(), 7, models.DatabaseMetadata{
		Tables:      []models.TableDescriptor{{TableName: "users", Columns: []models.ColumnDescriptor{}}},
		ForeignKeys: []models.LogicalForeignKey{},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(7), body["connectionId"])
	assert.Len(t, body["tables"], 1)
	assert.Contains(t, body, "foreignKeys")
}

func TestCancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, 200, nil, "")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListConnections(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
