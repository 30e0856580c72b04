package backup

import (
	"errors"
	"fmt"
)

var (
	ErrConfig             = errors.New("configuration error")
	ErrCacheCreation      = errors.New("cannot create cache area")
	ErrNotFound           = errors.New("no such file or path")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrTransferFailed     = errors.New("could not finish data retrieval")
	ErrArchive            = errors.New("archive creation failed")
	ErrPlacementExhausted = errors.New("numbered suffix limit reached")
	ErrPlacementFailed    = errors.New("could not move archive to destination")
	ErrInterrupted        = errors.New("backup interrupted")
)

// BackupError is a terminal failure of one run. Kind is one of the Err*
// values above, Target names the remote path or destination involved.
type BackupError struct {
	Phase      State
	Kind       error
	Target     string
	Err        error
	Suggestion string
}

func (e *BackupError) Error() string {
	msg := fmt.Sprintf("[%s] %v", e.Phase, e.Kind)
	if e.Target != "" {
		msg += fmt.Sprintf(": %q", e.Target)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if e.Suggestion != "" {
		msg += fmt.Sprintf("\n Suggestion: %s", e.Suggestion)
	}
	return msg
}

func (e *BackupError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(phase State, kind error, target string, err error, suggestion string) *BackupError {
	return &BackupError{
		Phase:      phase,
		Kind:       kind,
		Target:     target,
		Err:        err,
		Suggestion: suggestion,
	}
}

// KindOf returns the Err* kind carried by err, or nil.
func KindOf(err error) error {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Kind
	}
	return nil
}
