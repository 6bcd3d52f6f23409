// Package must re-exports the error-to-panic helpers of
// github.com/janpfeifer/must with the arities this repository uses.
// Convenient for command-line drivers and tests that fail hard on error.
package must

import "github.com/janpfeifer/must"

// M panics if err is not nil.
func M(err error) { must.M(err) }

// M1 panics if err is not nil, otherwise returns value.
func M1[T any](value T, err error) T { return must.M1(value, err) }

// M2 panics if err is not nil, otherwise returns both values.
func M2[T1, T2 any](value1 T1, value2 T2, err error) (T1, T2) {
	return must.M2(value1, value2, err)
}
