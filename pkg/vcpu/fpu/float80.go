// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fpu

import (
	"fmt"
	"math"
)

// Float80 is a raw x87 extended precision value: a 64-bit significand with
// an explicit integer bit, followed by a 15-bit biased exponent and sign.
type Float80 [10]byte

const float80Bias = 16383

// Mantissa returns the 64-bit significand, including the integer bit.
func (f Float80) Mantissa() uint64 {
	return byteOrder.Uint64(f[0:8])
}

// Exponent returns the biased 15-bit exponent.
func (f Float80) Exponent() uint16 {
	return byteOrder.Uint16(f[8:10]) & 0x7fff
}

// Sign returns true if the sign bit is set.
func (f Float80) Sign() bool {
	return f[9]&0x80 != 0
}

// Float64 converts f to the nearest float64. Values outside the float64 range
// become infinities or zeros, and precision beyond 53 bits is lost.
func (f Float80) Float64() float64 {
	m, e := f.Mantissa(), int(f.Exponent())
	var v float64
	switch {
	case e == 0x7fff:
		if m<<1 == 0 {
			v = math.Inf(1)
		} else {
			v = math.NaN()
		}
	case e == 0:
		// Denormals use the minimum exponent.
		v = math.Ldexp(float64(m), 1-float80Bias-63)
	default:
		v = math.Ldexp(float64(m), e-float80Bias-63)
	}
	if f.Sign() {
		v = math.Copysign(v, -1)
	}
	return v
}

// String implements fmt.Stringer.
func (f Float80) String() string {
	return fmt.Sprintf("%#04x%016x (%g)", byteOrder.Uint16(f[8:10]), f.Mantissa(), f.Float64())
}
