package repository

import (
	"context"
	"database/sql/driver"
	"net"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/example/prodflow/backend/internal/apperr"
)

// storeError classifies a gorm failure. Already classified errors pass through.
func storeError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(format+" not found", args...)
	}
	if isTransient(err) {
		return apperr.Transient(err, format, args...)
	}
	return errors.Wrapf(err, format, args...)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
