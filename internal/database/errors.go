package database

import (
	"database/sql/driver"
	"errors"
	"net"
	"syscall"
)

// isNetworkError recognizes connectivity failures that every driver
// surfaces the same way.
func isNetworkError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
