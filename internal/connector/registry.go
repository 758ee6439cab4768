package connector

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-model-detector/internal/errs"
	"github.com/vitebski/mysql-model-detector/pkg/models"
)

const defaultPingTimeout = 10 * time.Second

// Opener opens a database handle for a connection configuration.
// The handle is not expected to be connected yet; the registry probes it.
type Opener func(cfg models.ConnectionConfig) (*sql.DB, error)

// OpenMySQL opens a MySQL handle with go-sql-driver/mysql
func OpenMySQL(cfg models.ConnectionConfig) (*sql.DB, error) {
	dsn, err := BuildDSN(cfg, defaultPingTimeout)
	if err != nil {
		return nil, err
	}
	return sql.Open("mysql", dsn)
}

// Registry owns the live database handles, keyed by connection name.
// It is safe for concurrent use.
type Registry struct {
	Logger      *logrus.Logger
	PingTimeout time.Duration

	open  Opener
	mu    sync.Mutex
	conns map[string]*sql.DB
	order []string
}

// NewRegistry creates a registry that opens MySQL connections
func NewRegistry(logger *logrus.Logger) *Registry {
	return NewRegistryWithOpener(OpenMySQL, logger)
}

// NewRegistryWithOpener creates a registry with a custom opener
func NewRegistryWithOpener(open Opener, logger *logrus.Logger) *Registry {
	return &Registry{
		Logger:      logger,
		PingTimeout: defaultPingTimeout,
		open:        open,
		conns:       make(map[string]*sql.DB),
	}
}

// TestConnection opens a transient connection, pings it and closes it again.
// Registry state is never touched.
func (r *Registry) TestConnection(ctx context.Context, cfg models.ConnectionConfig) models.ConnectionResult {
	db, err := r.connect(ctx, cfg)
	if err != nil {
		return failure("connection failed", err)
	}
	if err := db.Close(); err != nil {
		r.Logger.Warningf("Error closing test connection %s: %v", cfg.Name, err)
	}

	r.Logger.Infof("Connection test succeeded: %s", Describe(cfg))
	return models.ConnectionResult{Success: true, Message: "connection succeeded"}
}

// Open connects, probes and registers a handle under cfg.Name.
// A previous handle with the same name is closed in the same critical section.
func (r *Registry) Open(ctx context.Context, cfg models.ConnectionConfig) models.ConnectionResult {
	if _, err := r.register(ctx, cfg); err != nil {
		return failure("failed to create connection", err)
	}
	return models.ConnectionResult{Success: true, Message: "connection created"}
}

// Close closes and removes the handle registered under name
func (r *Registry) Close(name string) models.ConnectionResult {
	r.mu.Lock()
	db, ok := r.conns[name]
	if ok {
		r.remove(name)
	}
	r.mu.Unlock()

	if !ok {
		return models.ConnectionResult{Success: false, Message: "connection not found"}
	}

	if err := db.Close(); err != nil {
		r.Logger.Errorf("Error closing connection %s: %v", name, err)
		return failure("failed to close connection", err)
	}

	r.Logger.Infof("Connection closed: %s", name)
	return models.ConnectionResult{Success: true, Message: "connection closed"}
}

// Status reports whether a live handle exists for name and answers a ping.
// A handle whose probe fails with an unrecoverable driver error is removed.
func (r *Registry) Status(ctx context.Context, name string) bool {
	db, ok := r.lookup(name)
	if !ok {
		return false
	}

	if err := r.ping(ctx, db); err != nil {
		if isUnrecoverable(err) {
			r.Logger.Warningf("Dropping connection %s after failed probe: %v", name, err)
			r.evict(name, db)
			return false
		}
		r.Logger.Warningf("Status probe failed for %s: %v", name, err)
		return false
	}
	return true
}

// List returns the names of the registered handles in insertion order
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Execute runs a raw statement on the live handle registered under name.
// The statement is passed through unchanged.
func (r *Registry) Execute(ctx context.Context, name, statement string) ([]map[string]interface{}, error) {
	db, ok := r.lookup(name)
	if !ok {
		return nil, errs.Newf(errs.ErrKindNotFound, "connection %q does not exist", name)
	}

	rows, err := QueryRows(ctx, db, statement)
	if err != nil {
		if isUnrecoverable(err) {
			r.Logger.Warningf("Dropping connection %s after unrecoverable error: %v", name, err)
			r.evict(name, db)
			return nil, errs.Wrap(errs.ErrKindConnection, "connection lost", err)
		}
		r.Logger.Errorf("Error executing query on %s: %v", name, err)
		return nil, errs.Wrap(errs.ErrKindQuery, "query failed", err)
	}
	return rows, nil
}

// Acquire returns a handle for cfg.Name, opening and registering one if none is live.
// The returned release func closes the handle only when Acquire opened it.
func (r *Registry) Acquire(ctx context.Context, cfg models.ConnectionConfig) (*sql.DB, func(), error) {
	if db, ok := r.lookup(cfg.Name); ok {
		r.Logger.Debugf("Borrowing live connection %s", cfg.Name)
		return db, func() {}, nil
	}

	db, err := r.register(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	release := func() {
		r.evict(cfg.Name, db)
	}
	return db, release, nil
}

// CloseAll closes every registered handle
func (r *Registry) CloseAll() {
	for _, name := range r.List() {
		r.Close(name)
	}
}

func (r *Registry) register(ctx context.Context, cfg models.ConnectionConfig) (*sql.DB, error) {
	if cfg.Name == "" {
		return nil, errs.Validation("connection name is required")
	}

	db, err := r.connect(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.conns[cfg.Name]; exists {
		if err := prev.Close(); err != nil {
			r.Logger.Warningf("Error closing replaced connection %s: %v", cfg.Name, err)
		}
	} else {
		r.order = append(r.order, cfg.Name)
	}
	r.conns[cfg.Name] = db

	r.Logger.Infof("Connection registered: %s", Describe(cfg))
	return db, nil
}

func (r *Registry) connect(ctx context.Context, cfg models.ConnectionConfig) (*sql.DB, error) {
	if err := ValidateEngine(cfg); err != nil {
		return nil, err
	}

	db, err := r.open(cfg)
	if err != nil {
		if errs.IsValidation(err) {
			return nil, err
		}
		r.Logger.Errorf("Error opening connection %s: %v", cfg.Name, err)
		return nil, errs.Wrap(errs.ErrKindConnection, describeConnectionError(err), err)
	}

	if err := r.ping(ctx, db); err != nil {
		r.Logger.Errorf("Error pinging %s: %v", Describe(cfg), err)
		_ = db.Close()
		return nil, errs.Wrap(errs.ErrKindConnection, describeConnectionError(err), err)
	}
	return db, nil
}

func (r *Registry) ping(ctx context.Context, db *sql.DB) error {
	if r.PingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.PingTimeout)
		defer cancel()
	}
	return db.PingContext(ctx)
}

func (r *Registry) lookup(name string) (*sql.DB, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	db, ok := r.conns[name]
	return db, ok
}

// evict closes db and removes it if it is still the handle registered under name
func (r *Registry) evict(name string, db *sql.DB) {
	r.mu.Lock()
	if r.conns[name] == db {
		r.remove(name)
	}
	r.mu.Unlock()

	if err := db.Close(); err != nil {
		r.Logger.Debugf("Error closing connection %s: %v", name, err)
	}
}

// remove must be called with r.mu held
func (r *Registry) remove(name string) {
	delete(r.conns, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func failure(message string, err error) models.ConnectionResult {
	if errs.IsValidation(err) {
		return models.ConnectionResult{Success: false, Message: errs.MessageOf(err)}
	}

	result := models.ConnectionResult{Success: false, Message: message}
	if reason := errs.MessageOf(err); reason != "" && errs.KindOf(err) == errs.ErrKindConnection {
		result.Message = message + ": " + reason
	}

	// Surface the driver message verbatim when there is one
	var e *errs.Error
	if errors.As(err, &e) && e.Cause != nil {
		result.Error = e.Cause.Error()
	} else if err != nil {
		result.Error = err.Error()
	}
	return result
}
