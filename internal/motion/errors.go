package motion

import (
	"errors"
	"fmt"

	"github.com/jvs-project/motion/pkg/errclass"
)

// failure is an error whose text is exactly what callers see in a Result.
// It unwraps to its cause so errclass checks keep working.
type failure struct {
	msg   string
	cause error
}

func (f *failure) Error() string { return f.msg }
func (f *failure) Unwrap() error { return f.cause }

func fail(class *errclass.MotionError, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return &failure{msg: msg, cause: class.WithMessage(msg)}
}

// wrap prefixes the reason of err, keeping err's class.
func wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &failure{msg: fmt.Sprintf(format, args...) + ": " + reason(err), cause: err}
}

// reason is the human-readable part of err, without an error code.
func reason(err error) string {
	switch e := err.(type) {
	case nil:
		return ""
	case *failure:
		return e.msg
	case *errclass.MotionError:
		if e.Message == "" {
			return e.Code
		}
		return e.Message
	}
	return err.Error()
}

// code returns the errclass code carried by err, or E_INTERNAL.
func code(err error) string {
	var me *errclass.MotionError
	if errors.As(err, &me) {
		return me.Code
	}
	return errclass.ErrInternal.Code
}

// answerError turns a negative or missing answer into a failure, using the
// agent's details when it gave any.
func answerError(details, fallback string) error {
	if details != "" {
		return fail(errclass.ErrScenarioFailed, "%s", details)
	}
	return fail(errclass.ErrScenarioFailed, "%s", fallback)
}
