package connector

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/vitebski/mysql-model-detector/internal/errs"
	"github.com/vitebski/mysql-model-detector/pkg/models"
)

// NewConnectionConfig creates a connection configuration, filling empty values from the environment
func NewConnectionConfig(name, host, user, password, database, port string) models.ConnectionConfig {
	if host == "" {
		host = getEnvOrDefault("MYSQL_HOST", "localhost")
	}
	if user == "" {
		user = getEnvOrDefault("MYSQL_USER", "root")
	}
	if password == "" {
		password = getEnvOrDefault("MYSQL_PASSWORD", "")
	}
	if database == "" {
		database = getEnvOrDefault("MYSQL_DATABASE", "")
	}
	if port == "" {
		port = getEnvOrDefault("MYSQL_PORT", "3306")
	}
	if name == "" {
		name = getEnvOrDefault("MYSQL_CONNECTION_NAME", database)
	}

	var id int64
	if value, exists := os.LookupEnv("MYSQL_CONNECTION_ID"); exists {
		id, _ = strconv.ParseInt(value, 10, 64)
	}

	return models.ConnectionConfig{
		ID:           id,
		Name:         name,
		Engine:       models.Engine(getEnvOrDefault("MYSQL_ENGINE", string(models.EngineMySQL))),
		Host:         host,
		Port:         port,
		DatabaseName: database,
		Username:     user,
		Password:     password,
	}
}

// ValidateEngine rejects engines other than MySQL
func ValidateEngine(cfg models.ConnectionConfig) error {
	if models.Engine(strings.ToLower(string(cfg.Engine))) != models.EngineMySQL {
		return errs.Newf(errs.ErrKindValidation, "unsupported engine: %q", cfg.Engine)
	}
	return nil
}

// BuildDSN builds the go-sql-driver DSN for a connection configuration
func BuildDSN(cfg models.ConnectionConfig, timeout time.Duration) (string, error) {
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return "", errs.Newf(errs.ErrKindValidation, "invalid port number: %q", cfg.Port)
	}

	c := mysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	c.DBName = cfg.DatabaseName
	c.ParseTime = true
	if timeout > 0 {
		c.Timeout = timeout
	}
	return c.FormatDSN(), nil
}

// Describe returns a printable form of the configuration without the password
func Describe(cfg models.ConnectionConfig) string {
	return fmt.Sprintf("%s (%s@%s:%s/%s)", cfg.Name, cfg.Username, cfg.Host, cfg.Port, cfg.DatabaseName)
}

// getEnvOrDefault gets an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
