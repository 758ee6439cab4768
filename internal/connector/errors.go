package connector

import (
	"database/sql/driver"
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"
)

// MySQL error numbers
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errDBAccessDenied  = 1044
	errAccessDenied    = 1045
	errUnknownDatabase = 1049
	errConnRefused     = 2003
)

// describeConnectionError converts a driver error into a short reason
func describeConnectionError(err error) string {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case errAccessDenied, errDBAccessDenied:
			return "authentication rejected"
		case errUnknownDatabase:
			return "unknown database"
		case errConnRefused:
			return "database unreachable"
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "connection timed out"
		}
		return "database unreachable"
	}

	return "connection failed"
}

// isUnrecoverable reports whether err leaves the handle unusable
func isUnrecoverable(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn)
}
