package detect

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTrackingNotEnabled is the cause of a TrackingNotEnabledError.
var ErrTrackingNotEnabled = errors.New("editor tracking is not enabled")

// AuthError is returned when the portal answers a token request with an
// error payload instead of a token.
type AuthError struct {
	Message string
	Details []string
}

func (e *AuthError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("token request failed: %s", e.Message)
	}
	return fmt.Sprintf("token request failed: %s (%s)", e.Message, strings.Join(e.Details, "; "))
}

// TrackingNotEnabledError reports a layer whose metadata has no editor
// tracking information.
type TrackingNotEnabledError struct {
	LayerURL string
}

func (e *TrackingNotEnabledError) Error() string {
	return fmt.Sprintf("%s: %v", e.LayerURL, ErrTrackingNotEnabled)
}

func (e *TrackingNotEnabledError) Unwrap() error { return ErrTrackingNotEnabled }

// StatisticsError is returned when the max-date statistics query answers
// with an error payload.
type StatisticsError struct {
	Message string
	Details []string
}

func (e *StatisticsError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("statistics query failed: %s", e.Message)
	}
	return fmt.Sprintf("statistics query failed: %s (%s)", e.Message, strings.Join(e.Details, "; "))
}

// UnknownFieldError lists requested report fields the layer does not have.
type UnknownFieldError struct {
	Names []string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("the following requested field(s) are not in the service: %s", strings.Join(e.Names, ", "))
}

// QueryError is returned when the delta query does not succeed.
type QueryError struct {
	Status int
	Reason string
}

func (e *QueryError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("edit tracking request failed: %s", e.Reason)
	}
	return fmt.Sprintf("edit tracking request failed: %d %s", e.Status, e.Reason)
}

// TransportError wraps a failed notification send. It is created and handled
// only by the Notifier.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
