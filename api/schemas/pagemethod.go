package schemas

import (
	"context"
	"fmt"
)

// PageFunc is the callable variant of a page method. It receives the live
// page as its sole argument, instead of the stored Args/Kwargs.
type PageFunc func(ctx context.Context, page Page) (any, error)

// PageMethod describes one browser-page operation to run before a response is
// returned to the crawler. It is either a named operation with positional and
// keyword arguments, or an arbitrary callable; exactly one of Name and Fn is
// set. The variant is resolved by the dispatcher, not by the descriptor.
//
// Result is nil until the descriptor has been dispatched, after which it holds
// the operation's resolved return value. It is written exactly once and never
// retried or overwritten; callers read it only after the request completes.
type PageMethod struct {
	Name   string
	Fn     PageFunc
	Args   Args
	Kwargs Kwargs
	Result any
}

// NewPageMethod builds a descriptor for a named page operation.
func NewPageMethod(name string, args ...any) *PageMethod {
	return &PageMethod{Name: name, Args: Args(args)}
}

// NewPageMethodFunc builds a descriptor for a page-scoped callable.
func NewPageMethodFunc(fn PageFunc) *PageMethod {
	return &PageMethod{Fn: fn}
}

// WithKwargs sets the keyword arguments and returns the descriptor, so
// construction reads as a single expression.
func (pm *PageMethod) WithKwargs(kwargs Kwargs) *PageMethod {
	pm.Kwargs = kwargs
	return pm
}

// String renders a fixed diagnostic template naming the method.
func (pm *PageMethod) String() string {
	if pm.Fn != nil {
		return "<PageMethod for callable>"
	}
	return fmt.Sprintf("<PageMethod for method '%s'>", pm.Name)
}
