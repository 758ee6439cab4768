package utils

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vitebski/mysql-model-detector/pkg/models"
)

// DefaultLogLevel applies when neither --log-level nor MYSQL_LOG_LEVEL names a level
const DefaultLogLevel = "info"

// secretEnv are never written to the log
var secretEnv = map[string]bool{
	"MYSQL_PASSWORD":  true,
	"MODEL_API_TOKEN": true,
}

// NewLogger builds the logger shared by every component of the detector.
// Log lines go to w so reports and JSON on stdout stay machine readable.
// An empty level falls back to MYSQL_LOG_LEVEL; an unknown one means info.
func NewLogger(w io.Writer, level string) *logrus.Logger {
	if level == "" {
		level = os.Getenv("MYSQL_LOG_LEVEL")
	}
	if level == "" {
		level = DefaultLogLevel
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}

	logger := logrus.New()
	logger.SetOutput(w)
	logger.SetLevel(parsed)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	logger.Debugf("Logging at %s level", parsed)
	return logger
}

// Requirement is an environment variable a command cannot run without.
// Flag names the command line flag that supplies the same value.
type Requirement struct {
	Env  string
	Flag string
}

func (r Requirement) String() string {
	return fmt.Sprintf("%s (or --%s)", r.Env, r.Flag)
}

// LoadEnv merges envFile into the process environment and returns the requirements still unset.
// Variables already present in the environment take precedence over the file.
// A missing file is not an error.
func LoadEnv(envFile string, required []Requirement, logger *logrus.Logger) ([]Requirement, error) {
	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
		logger.Debugf("No %s file, using the process environment", envFile)
	} else {
		logger.Debugf("Loaded environment from %s", envFile)
	}

	if logger.IsLevelEnabled(logrus.DebugLevel) {
		for _, entry := range os.Environ() {
			name, value, _ := strings.Cut(entry, "=")
			if !strings.HasPrefix(name, "MYSQL_") && !strings.HasPrefix(name, "MODEL_") {
				continue
			}
			if secretEnv[name] {
				value = "********"
			}
			logger.Debugf("%s=%s", name, value)
		}
	}

	var missing []Requirement
	for _, r := range required {
		if os.Getenv(r.Env) == "" {
			missing = append(missing, r)
		}
	}
	return missing, nil
}

// GetEnvInt gets an integer value from environment variable
func GetEnvInt(varName string, defaultValue int) int {
	value := os.Getenv(varName)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// ValidateConnectionParams validates database connection parameters
func ValidateConnectionParams(cfg models.ConnectionConfig, logger *logrus.Logger) bool {
	if cfg.Host == "" {
		logger.Error("Database host is required")
		return false
	}

	if cfg.Username == "" {
		logger.Error("Database user is required")
		return false
	}

	if cfg.Password == "" { // Empty password is allowed
		logger.Warning("Database password is empty")
	}

	if cfg.DatabaseName == "" {
		logger.Error("Database name is required")
		return false
	}

	if _, err := strconv.Atoi(cfg.Port); err != nil {
		logger.Errorf("Invalid port number: %s", cfg.Port)
		return false
	}

	return true
}
