/*
 *	Copyright 2024 The distla Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package scalars defines the closed set of numeric element types supported by the
// distributed matrices, as a Go generics constraint, along with the small amount of
// arithmetic the library needs that Go does not provide generically (conjugation,
// absolute values, conversions from float64).
//
// The set mirrors the classic dense linear-algebra quintet: int32, float32, float64,
// complex64 and complex128. The real/complex distinction is resolved at compile time
// by instantiation and at runtime by a type switch on the zero value, which the
// compiler turns into a constant branch per instantiation.
package scalars

import (
	"math"
	"math/cmplx"
	"math/rand"

	"golang.org/x/exp/constraints"
)

// Scalar is the constraint listing every element type a distributed matrix may hold.
type Scalar interface {
	int32 | float32 | float64 | complex64 | complex128
}

// Real is the subset of Scalar with no imaginary part.
type Real interface {
	int32 | float32 | float64
}

// IsComplex reports whether T is one of the complex element types.
func IsComplex[T Scalar]() bool {
	var zero T
	switch any(zero).(type) {
	case complex64, complex128:
		return true
	}
	return false
}

// Conj returns the complex conjugate of v. For real element types it returns v.
func Conj[T Scalar](v T) T {
	switch x := any(v).(type) {
	case complex64:
		return any(complex(real(x), -imag(x))).(T)
	case complex128:
		return any(cmplx.Conj(x)).(T)
	}
	return v
}

// Abs returns |v| as a float64, the modulus for complex element types.
func Abs[T Scalar](v T) float64 {
	switch x := any(v).(type) {
	case int32:
		if x < 0 {
			return float64(-x)
		}
		return float64(x)
	case float32:
		return math.Abs(float64(x))
	case float64:
		return math.Abs(x)
	case complex64:
		return cmplx.Abs(complex128(x))
	case complex128:
		return cmplx.Abs(x)
	}
	return 0
}

// FromFloat converts x to the element type T, truncating for int32 and taking x as
// the real part for complex types.
func FromFloat[T Scalar](x float64) T {
	var zero T
	switch any(zero).(type) {
	case int32:
		return any(int32(x)).(T)
	case float32:
		return any(float32(x)).(T)
	case float64:
		return any(x).(T)
	case complex64:
		return any(complex(float32(x), 0)).(T)
	case complex128:
		return any(complex(x, 0)).(T)
	}
	return zero
}

// FromComplex converts x to the element type T, dropping the imaginary part for
// real element types.
func FromComplex[T Scalar](x complex128) T {
	var zero T
	switch any(zero).(type) {
	case complex64:
		return any(complex64(x)).(T)
	case complex128:
		return any(x).(T)
	}
	return FromFloat[T](real(x))
}

// Sample draws a uniform sample from the unit ball of T: entries in [-1, 1] for the
// real types (a small integer range for int32), and uniform real and imaginary
// parts for the complex types.
func Sample[T Scalar](rng *rand.Rand) T {
	var zero T
	switch any(zero).(type) {
	case int32:
		return any(rng.Int31n(21) - 10).(T)
	case float32:
		return any(float32(2*rng.Float64() - 1)).(T)
	case float64:
		return any(2*rng.Float64() - 1).(T)
	case complex64:
		return any(complex(float32(2*rng.Float64()-1), float32(2*rng.Float64()-1))).(T)
	case complex128:
		return any(complex(2*rng.Float64()-1, 2*rng.Float64()-1)).(T)
	}
	return zero
}

// GCD returns the greatest common divisor of a and b.
func GCD[T constraints.Integer](a, b T) T {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// LCM returns the least common multiple of a and b.
func LCM[T constraints.Integer](a, b T) T {
	return a / GCD(a, b) * b
}
