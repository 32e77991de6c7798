package types

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindAuthenticationFailed Kind = "AuthenticationFailed"
	KindTransport            Kind = "TransportError"
	KindRetriesExhausted     Kind = "RetriesExhausted"
	KindNavigation           Kind = "NavigationError"
	KindClassification       Kind = "ClassificationError"
	KindCorruptDownload      Kind = "CorruptDownload"
	KindDownloadFailed       Kind = "DownloadFailed"
	KindNotificationFailed   Kind = "NotificationFailed"
	KindCanceled             Kind = "Canceled"
	KindAborted              Kind = "Aborted"
	KindUnknown              Kind = "Unknown"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrTransport            = errors.New("transport error")
	ErrRetriesExhausted     = errors.New("retries exhausted")
	ErrNavigation           = errors.New("navigation error")
	ErrClassification       = errors.New("classification error")
	ErrCorruptDownload      = errors.New("corrupt download")
	ErrDownloadFailed       = errors.New("download failed")
	ErrNotificationFailed   = errors.New("notification failed")
	ErrCanceled             = errors.New("run canceled")
	ErrAborted              = errors.New("run aborted")
)

// Checked in order: a retries-exhausted error also matches its cause, and the
// outer kind wins.
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrRetriesExhausted, KindRetriesExhausted},
	{ErrAborted, KindAborted},
	{ErrCanceled, KindCanceled},
	{ErrAuthenticationFailed, KindAuthenticationFailed},
	{ErrCorruptDownload, KindCorruptDownload},
	{ErrDownloadFailed, KindDownloadFailed},
	{ErrNavigation, KindNavigation},
	{ErrClassification, KindClassification},
	{ErrNotificationFailed, KindNotificationFailed},
	{ErrTransport, KindTransport},
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// CauseKind is KindOf for the error that used up the retries, so a page or
// download that failed every attempt keeps its own kind. The attempt count
// stays in the message.
func CauseKind(err error) Kind {
	var exhausted *RetriesExhaustedError
	if errors.As(err, &exhausted) && exhausted.Last != nil {
		if k := CauseKind(exhausted.Last); k != KindUnknown {
			return k
		}
	}
	return KindOf(err)
}

// RetriesExhaustedError is returned once every attempt has failed.
type RetriesExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts: %v", e.Operation, ErrRetriesExhausted, e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Last}
}

func NewFailure(stage RunState, entity string, err error) Failure {
	return Failure{
		Kind:    CauseKind(err),
		Stage:   stage,
		Entity:  entity,
		Message: err.Error(),
	}
}

func (f Failure) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", f.Stage, f.Kind, f.Entity, f.Message)
}
