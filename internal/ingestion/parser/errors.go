package parser

import (
	"errors"
	"io"
)

// readError wraps failures of the source reader so they surface as systemic
// rather than as a malformed batch.
type readError struct{ err error }

func (e *readError) Error() string { return "read batch: " + e.err.Error() }
func (e *readError) Unwrap() error { return e.err }

type sourceReader struct{ r io.Reader }

func (s sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = &readError{err: err}
	}
	return n, err
}

func isReadFailure(err error) bool {
	var readErr *readError
	return errors.As(err, &readErr)
}
