package sitesync

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrSiteNotFound        = errors.New("site not found")
	ErrMonitorNotFound     = errors.New("monitor not found")
	ErrInvalidStatusUpdate = errors.New("invalid status update")
)

// ActionError is returned by every remote-backed action. Unwrap reaches the
// error produced by the monitoring service.
type ActionError struct {
	Op             string
	SiteIdentifier string
	MonitorID      string
	Err            error
}

func (e *ActionError) Error() string {
	target := e.SiteIdentifier
	if e.MonitorID != "" {
		target += "/" + e.MonitorID
	}
	return fmt.Sprintf("%s %s: %v", e.Op, target, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// NormalizeError wraps err in an ActionError unless it already is one.
func NormalizeError(op, siteIdentifier, monitorID string, err error) error {
	if err == nil {
		return nil
	}
	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		return err
	}
	return &ActionError{Op: op, SiteIdentifier: siteIdentifier, MonitorID: monitorID, Err: err}
}

// IsRemoteTimeout reports whether the remote call failed because its context expired.
func IsRemoteTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
