// Package errs defines the closed error taxonomy shared by every component.
// Each error carries a stable machine-readable tag (used in structured logs
// and run metadata) and maps to a process exit code.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies the top-level error class.
type Kind int

const (
	KindUnclassified Kind = iota
	KindConfig
	KindData
	KindFit
	KindResource
	KindNumeric
	KindDrift
	KindMissingFeature
	KindPartial
)

// Exit codes for the CLI surface.
const (
	ExitOK           = 0
	ExitUnclassified = 1
	ExitConfig       = 2
	ExitData         = 3
	ExitResource     = 4
	ExitNumeric      = 5
	ExitPartial      = 6
)

// Sub-tags for the Fit, Numeric and Drift classes.
const (
	TagInsufficientData = "FitError:InsufficientData"
	TagNonConvergence   = "FitError:NonConvergence"
	TagNonStationary    = "FitError:NonStationary"
	TagImplausibleParam = "FitError:ImplausibleParams"

	TagBankruptcy = "NumericError:Bankruptcy"
	TagOverflow   = "NumericError:Overflow"
	TagInvalidIV  = "NumericError:InvalidIV"

	TagSchemaDrift       = "DriftError:SchemaDrift"
	TagCountDrift        = "DriftError:CountDrift"
	TagDistributionDrift = "DriftError:DistributionDrift"
)

// Error is the single concrete error type of the taxonomy. User-visible
// failures always name the field, the offending value, the constraint that
// was violated, and a suggested remediation.
type Error struct {
	Kind       Kind
	Tag        string // stable machine tag, e.g. "FitError:NonConvergence"
	Field      string
	Value      interface{}
	Constraint string
	Remedy     string
	wrapped    error
}

func (e *Error) Error() string {
	msg := e.Tag
	if e.Field != "" {
		msg += fmt.Sprintf(": field %q", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" = %v", e.Value)
	}
	if e.Constraint != "" {
		msg += fmt.Sprintf(" violates %q", e.Constraint)
	}
	if e.Remedy != "" {
		msg += fmt.Sprintf(" (try: %s)", e.Remedy)
	}
	if e.wrapped != nil {
		msg += ": " + e.wrapped.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.wrapped }

// ExitCode maps the error class to the CLI exit code contract.
func (e *Error) ExitCode() int {
	switch e.Kind {
	case KindConfig, KindMissingFeature:
		return ExitConfig
	case KindData, KindDrift:
		return ExitData
	case KindResource:
		return ExitResource
	case KindFit, KindNumeric:
		return ExitNumeric
	case KindPartial:
		return ExitPartial
	default:
		return ExitUnclassified
	}
}

// WithDetail attaches field/value/constraint/remediation context.
func (e *Error) WithDetail(field string, value interface{}, constraint, remedy string) *Error {
	e.Field = field
	e.Value = value
	e.Constraint = constraint
	e.Remedy = remedy
	return e
}

// Wrap attaches an underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.wrapped = err
	return e
}

func newError(kind Kind, tag string) *Error {
	return &Error{Kind: kind, Tag: tag}
}

// Config reports a missing, invalid or contradictory configuration value.
func Config() *Error { return newError(KindConfig, "ConfigError") }

// Data reports a schema mismatch, insufficient samples, gap beyond tolerance
// or a timestamp anomaly in historical bars.
func Data() *Error { return newError(KindData, "DataError") }

// Fit reports a distribution fitting failure with the given sub-tag.
func Fit(tag string) *Error { return newError(KindFit, tag) }

// Resource reports a memory or CPU ceiling crossing; raised before allocation.
func Resource() *Error { return newError(KindResource, "ResourceLimitError") }

// Numeric reports a simulation numerical failure with the given sub-tag.
func Numeric(tag string) *Error { return newError(KindNumeric, tag) }

// Drift reports a replay drift detection with the given sub-tag.
func Drift(tag string) *Error { return newError(KindDrift, tag) }

// MissingFeature reports a required strategy feature absent from the feature map.
func MissingFeature(name string) *Error {
	e := newError(KindMissingFeature, "MissingFeatureError")
	e.Field = name
	e.Constraint = "feature must be present in the feature map"
	e.Remedy = "add the feature to the pipeline or drop it from the strategy's requirements"
	return e
}

// Partial reports a grid interrupted before all configs completed.
func Partial() *Error { return newError(KindPartial, "PartialCompletion") }

// Unclassified wraps an error that is not part of the taxonomy.
func Unclassified(err error) *Error {
	return newError(KindUnclassified, "Unclassified").Wrap(err)
}

// KindOf returns the taxonomy kind of err, or KindUnclassified when err is
// not part of the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnclassified
}

// TagOf returns the stable machine tag of err, or "Unclassified".
func TagOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Tag
	}
	return "Unclassified"
}

// ExitCodeOf maps any error to the CLI exit code contract.
func ExitCodeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.ExitCode()
	}
	return ExitUnclassified
}
