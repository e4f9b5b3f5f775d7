// Package errors provides categorized, context-carrying errors for modwatch.
//
// Errors are built fluently:
//
//	errors.New(err).
//		Component("repository").
//		Category(errors.CategoryDatabase).
//		Context("alert_id", id).
//		Build()
//
// The standard library helpers are re-exported so callers only import this package.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

// ErrorCategory classifies an error for logging, metrics and telemetry.
type ErrorCategory string

const (
	CategoryGeneric       ErrorCategory = "generic"
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryDatabase      ErrorCategory = "database"
	CategoryNetwork       ErrorCategory = "network"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryDetector      ErrorCategory = "detector"
	CategoryNotification  ErrorCategory = "notification"
	CategoryPenalty       ErrorCategory = "penalty"
	CategorySystem        ErrorCategory = "system"
)

// EnhancedError wraps an error with component, category and context.
type EnhancedError struct {
	Err       error
	component string
	category  ErrorCategory
	context   map[string]any
	timestamp time.Time
}

func (e *EnhancedError) Error() string {
	if e.Err == nil {
		return string(e.category)
	}
	return e.Err.Error()
}

func (e *EnhancedError) Unwrap() error { return e.Err }

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string { return e.component }

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() ErrorCategory { return e.category }

// GetContext returns a copy of the attached context.
func (e *EnhancedError) GetContext() map[string]any {
	return maps.Clone(e.context)
}

// GetTimestamp returns when the error was built.
func (e *EnhancedError) GetTimestamp() time.Time { return e.timestamp }

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New starts a builder around an existing error.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err, category: CategoryGeneric}
}

// Newf starts a builder around a formatted error. %w verbs wrap as with fmt.Errorf.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

func (b *ErrorBuilder) Component(component string) *ErrorBuilder {
	b.component = component
	return b
}

func (b *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	b.category = category
	return b
}

func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if b.context == nil {
		b.context = make(map[string]any)
	}
	b.context[key] = value
	return b
}

// Build finalizes the error and hands it to the registered reporter.
func (b *ErrorBuilder) Build() *EnhancedError {
	ee := &EnhancedError{
		Err:       b.err,
		component: b.component,
		category:  b.category,
		context:   b.context,
		timestamp: time.Now(),
	}
	report(ee)
	return ee
}

// Reporter receives every built error. Used by telemetry.
type Reporter func(*EnhancedError)

var (
	reporterMu sync.RWMutex
	reporter   Reporter
)

// SetReporter installs the process reporter. Passing nil disables reporting.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	reporter = r
}

func report(ee *EnhancedError) {
	reporterMu.RLock()
	r := reporter
	reporterMu.RUnlock()
	if r != nil {
		r(ee)
	}
}

// CategoryOf returns the category of the first EnhancedError in err's chain.
func CategoryOf(err error) ErrorCategory {
	var ee *EnhancedError
	if As(err, &ee) {
		return ee.category
	}
	return CategoryGeneric
}

// Standard library re-exports.

func NewStd(text string) error { return stderrors.New(text) }

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Unwrap(err error) error { return stderrors.Unwrap(err) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
