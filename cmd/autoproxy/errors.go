package main

import "errors"

// configErr and bindErr tag an error with the exit-code category it
// should map to (spec.md §6: 0 success, 1 config error, 2 bind error),
// so cobra's RunE implementations don't need to call os.Exit directly.
type configErr struct{ err error }

func (e *configErr) Error() string { return e.err.Error() }
func (e *configErr) Unwrap() error { return e.err }

func asConfigError(err error) error {
	if err == nil {
		return nil
	}
	return &configErr{err: err}
}

type bindErr struct{ err error }

func (e *bindErr) Error() string { return e.err.Error() }
func (e *bindErr) Unwrap() error { return e.err }

func asBindError(err error) error {
	if err == nil {
		return nil
	}
	return &bindErr{err: err}
}

func isConfigError(err error) bool {
	var e *configErr
	return errors.As(err, &e)
}

func isBindError(err error) bool {
	var e *bindErr
	return errors.As(err, &e)
}
