// Package faults - Pipeline error taxonomy.
//
// Every error surfaced by the pipeline carries a Kind that decides how the
// caller reacts: Config and Framework faults abort the stage, Data and
// Inference faults are isolated to the offending item.
package faults

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a pipeline fault.
type Kind int

const (
	// KindUnknown is an unclassified error.
	KindUnknown Kind = iota
	// KindConfig is a configuration fault: missing dataset or class file,
	// invalid model variant, impossible stratification. Fatal before side
	// effects.
	KindConfig
	// KindData is a per-item data fault: unreadable image, malformed
	// annotation line. The pipeline skips the item and continues.
	KindData
	// KindFramework is a numerical-backend fault: fit-loop failure,
	// unsupported conversion. Fatal for the stage, never retried.
	KindFramework
	// KindInference is a per-item inference fault during batch prediction
	// or benchmarking. Recorded, the batch continues.
	KindInference
)

// String returns the fault kind label.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindData:
		return "data"
	case KindFramework:
		return "framework"
	case KindInference:
		return "inference"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap exposes the wrapped error to errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// Configf creates a configuration fault.
func Configf(format string, args ...interface{}) error {
	return &Error{Kind: KindConfig, Err: errors.Errorf(format, args...)}
}

// Dataf creates a per-item data fault.
func Dataf(format string, args ...interface{}) error {
	return &Error{Kind: KindData, Err: errors.Errorf(format, args...)}
}

// Frameworkf creates a backend fault.
func Frameworkf(format string, args ...interface{}) error {
	return &Error{Kind: KindFramework, Err: errors.Errorf(format, args...)}
}

// Inferencef creates a per-item inference fault.
func Inferencef(format string, args ...interface{}) error {
	return &Error{Kind: KindInference, Err: errors.Errorf(format, args...)}
}

// Wrap attaches a kind and context message to an existing error. A nil err
// yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: errors.Wrap(err, msg)}
}

// KindOf reports the kind of an error, unwrapping as needed. Errors
// produced outside this package report KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if stderrors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsFatal reports whether the fault aborts the current stage rather than
// being skipped per item.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindConfig, KindFramework:
		return true
	default:
		return false
	}
}
