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
	"strings"
)

// MXCSR is the SSE control and status register.
type MXCSR uint32

// Exception flags.
func (m MXCSR) IE() bool { return m&(1<<0) != 0 }
func (m MXCSR) DE() bool { return m&(1<<1) != 0 }
func (m MXCSR) ZE() bool { return m&(1<<2) != 0 }
func (m MXCSR) OE() bool { return m&(1<<3) != 0 }
func (m MXCSR) UE() bool { return m&(1<<4) != 0 }
func (m MXCSR) PE() bool { return m&(1<<5) != 0 }

// DAZ returns the denormals-are-zeros bit.
func (m MXCSR) DAZ() bool { return m&(1<<6) != 0 }

// Exception masks.
func (m MXCSR) IM() bool { return m&(1<<7) != 0 }
func (m MXCSR) DM() bool { return m&(1<<8) != 0 }
func (m MXCSR) ZM() bool { return m&(1<<9) != 0 }
func (m MXCSR) OM() bool { return m&(1<<10) != 0 }
func (m MXCSR) UM() bool { return m&(1<<11) != 0 }
func (m MXCSR) PM() bool { return m&(1<<12) != 0 }

// RC returns the two bit rounding control field.
func (m MXCSR) RC() uint8 { return uint8(m>>13) & 3 }

// FZ returns the flush-to-zero bit.
func (m MXCSR) FZ() bool { return m&(1<<15) != 0 }

// MM returns the misaligned exception mask (AMD).
func (m MXCSR) MM() bool { return m&(1<<17) != 0 }

var mxcsrNames = []struct {
	bit  uint
	name string
}{
	{0, "IE"}, {1, "DE"}, {2, "ZE"}, {3, "OE"}, {4, "UE"}, {5, "PE"},
	{6, "DAZ"}, {7, "IM"}, {8, "DM"}, {9, "ZM"}, {10, "OM"}, {11, "UM"},
	{12, "PM"}, {15, "FZ"}, {17, "MM"},
}

// String implements fmt.Stringer. Set flags are listed by name.
func (m MXCSR) String() string {
	var b strings.Builder
	b.WriteString("[")
	for _, n := range mxcsrNames {
		if m&(1<<n.bit) != 0 {
			b.WriteString(" ")
			b.WriteString(n.name)
		}
	}
	b.WriteString(" RC=")
	b.WriteByte('0' + m.RC())
	b.WriteString(" ]")
	return b.String()
}
