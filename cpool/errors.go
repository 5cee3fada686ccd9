package cpool

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a resolution failure.
type ErrorKind int

const (
	NoClassDefFound ErrorKind = iota
	NoSuchField
	NoSuchMethod
	IncompatibleClassChange
	AbstractMethod
	ClassCircularity
)

var exceptionClasses = [...]string{
	NoClassDefFound:         "java/lang/NoClassDefFoundError",
	NoSuchField:             "java/lang/NoSuchFieldError",
	NoSuchMethod:            "java/lang/NoSuchMethodError",
	IncompatibleClassChange: "java/lang/IncompatibleClassChangeError",
	AbstractMethod:          "java/lang/AbstractMethodError",
	ClassCircularity:        "java/lang/ClassCircularityError",
}

// ExceptionClass returns the runtime exception class the failure maps to.
func (k ErrorKind) ExceptionClass() string {
	if int(k) >= 0 && int(k) < len(exceptionClasses) {
		return exceptionClasses[k]
	}
	return "java/lang/LinkageError"
}

// ResolutionError reports that a constant-pool entry could not be resolved.
type ResolutionError struct {
	Kind   ErrorKind
	CPI    uint16
	Name   string // class or member name
	Detail string
	Err    error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("cpool: %s: %s", e.Kind.ExceptionClass(), e.Name)
	if e.CPI != 0 {
		msg += fmt.Sprintf(" (#%d)", e.CPI)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ExceptionClass returns the runtime exception class the failure maps to.
func (e *ResolutionError) ExceptionClass() string { return e.Kind.ExceptionClass() }

// ErrBadIndex is wrapped by errors for pool indices that are out of range or
// name an entry of the wrong kind.
var ErrBadIndex = errors.New("cpool: bad constant pool index")
