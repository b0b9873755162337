package store

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/roach88/vdoc/internal/row"
)

// classify wraps err for op, promoting failures to reach the database to
// row connection errors. Validation errors pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var rowErr *row.Error
	if errors.As(err, &rowErr) {
		return err
	}
	if isConnectionFailure(err) {
		return row.NewConnectionError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectionFailure(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08: connection exception; 57P01..03: admin/crash shutdown.
		return pqErr.Code.Class() == "08" || pqErr.Code == "57P01" || pqErr.Code == "57P02" || pqErr.Code == "57P03"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrNotADB:
			return true
		}
	}
	return false
}
