package directory

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPool is reported when neither fetch path produced a usable provider.
	ErrEmptyPool = errors.New("no eligible providers")
	// ErrFetchTimeout is reported when the secondary path lost its race against the timeout.
	ErrFetchTimeout = errors.New("fetch timed out")
	// ErrNoSource is reported when a fetch tier has no source configured.
	ErrNoSource = errors.New("no source configured")
	// ErrStopped is returned by engine calls made after Stop.
	ErrStopped = errors.New("engine stopped")
	// ErrSessionNotFound is returned for unknown or reaped session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStreamBusy is returned when a session already has an event consumer.
	ErrStreamBusy = errors.New("session event stream already attached")
)

// FetchError carries the outcome of both fetch tiers. A nil tier error with
// an empty result still counts as a failed tier.
type FetchError struct {
	Primary   error
	Secondary error
}

func (e *FetchError) Error() string {
	p, s := "empty", "empty"
	if e.Primary != nil {
		p = e.Primary.Error()
	}
	if e.Secondary != nil {
		s = e.Secondary.Error()
	}
	return fmt.Sprintf("fetch providers: primary: %s; secondary: %s", p, s)
}

// Unwrap exposes both tier errors, and ErrEmptyPool when a tier came back empty.
func (e *FetchError) Unwrap() []error {
	errs := []error{}
	if e.Primary != nil {
		errs = append(errs, e.Primary)
	}
	if e.Secondary != nil {
		errs = append(errs, e.Secondary)
	}
	if e.Primary == nil || e.Secondary == nil {
		errs = append(errs, ErrEmptyPool)
	}
	return errs
}
