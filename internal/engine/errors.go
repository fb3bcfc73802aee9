package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrStartAborted is returned by Start when Stop was called before the
	// session reached Running. All acquired resources have been released.
	ErrStartAborted = errors.New("engine: start aborted")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("engine: closed")
)

// AcquisitionError reports that the capture device could not be acquired
// (unavailable, busy or permission denied).
type AcquisitionError struct {
	Err error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("engine: acquire capture: %v", e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// ProviderUnavailableError reports that the frequency source could not be
// opened.
type ProviderUnavailableError struct {
	Err error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("engine: frequency source unavailable: %v", e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }
