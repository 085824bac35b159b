// Package failure classifies collaborator errors so the watchdog can decide
// whether to retry, disable a feature, or just log and move on.
package failure

import (
	"errors"
	"strings"
)

var (
	// ErrTransient marks network timeouts, connection errors and server-side
	// failures that are worth retrying.
	ErrTransient = errors.New("transient failure")

	// ErrPermanent marks configuration problems (missing binaries, language
	// data, rejected credentials) that retrying cannot fix.
	ErrPermanent = errors.New("permanent failure")
)

type classified struct {
	kind     error
	err      error
	guidance string
}

func (e *classified) Error() string {
	return e.err.Error()
}

func (e *classified) Unwrap() error {
	return e.err
}

func (e *classified) Is(target error) bool {
	return target == e.kind
}

// Transient wraps err as retryable. A nil err stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{kind: ErrTransient, err: err}
}

// Permanent wraps err as non-retryable and attaches operator guidance.
func Permanent(err error, guidance string) error {
	if err == nil {
		return nil
	}
	return &classified{kind: ErrPermanent, err: err, guidance: strings.TrimSpace(guidance)}
}

// IsTransient reports whether err, or anything it wraps, is transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsPermanent reports whether err, or anything it wraps, is permanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Guidance returns the remediation hint attached by Permanent, if any.
func Guidance(err error) string {
	var c *classified
	for errors.As(err, &c) {
		if c.guidance != "" {
			return c.guidance
		}
		err = c.err
	}
	return ""
}
