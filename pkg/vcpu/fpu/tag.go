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

// Tag values of the full x87 tag word.
const (
	TagValid   = 0
	TagZero    = 1
	TagSpecial = 2
	TagEmpty   = 3
)

// TagWord reconstructs the 16-bit x87 tag word, two bits per register, from
// the abridged tag byte saved by FXSAVE.
//
// Register i of the result occupies bits 2i and 2i+1. Registers marked empty
// in the abridged form are TagEmpty; otherwise the tag is derived from the
// saved 80-bit value, which is located through TOP.
func (s State) TagWord() uint16 {
	var ftw uint16
	for i := 0; i < NumFPRegs; i++ {
		ftw |= uint16(s.tag(i)) << (2 * i)
	}
	return ftw
}

// tag computes the full tag of register i.
func (s State) tag(i int) uint8 {
	if s.AbridgedTags()&(1<<i) == 0 {
		return TagEmpty
	}

	top := int(s.StatusWord().Top())
	slot := s.physicalSlot((i - top) & 7)
	mantissa := byteOrder.Uint64(slot[0:8])
	exp := byteOrder.Uint16(slot[8:10])

	if exp == 0 {
		if mantissa == 0 {
			return TagZero
		}
		// Denormal or pseudo-denormal.
		return TagSpecial
	}
	if exp&0x7fff == 0x7fff {
		// Infinity or NaN.
		return TagSpecial
	}
	if mantissa>>63 == 0 {
		// Unnormal: the integer bit is clear.
		return TagSpecial
	}
	return TagValid
}
