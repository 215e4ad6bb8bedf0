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

package vcpu

import (
	"strings"
)

// Flags is the RFLAGS register.
type Flags uint64

// Flag bits.
const (
	FlagCarry     Flags = 1 << 0
	FlagReserved1 Flags = 1 << 1
	FlagParity    Flags = 1 << 2
	FlagAdjust    Flags = 1 << 4
	FlagZero      Flags = 1 << 6
	FlagSign      Flags = 1 << 7
	FlagTrap      Flags = 1 << 8
	FlagInterrupt Flags = 1 << 9
	FlagDirection Flags = 1 << 10
	FlagOverflow  Flags = 1 << 11
	FlagResume    Flags = 1 << 16
	FlagID        Flags = 1 << 21

	flagIOPLShift = 12
)

func (f Flags) Carry() bool     { return f&FlagCarry != 0 }
func (f Flags) Reserved1() bool { return f&FlagReserved1 != 0 }
func (f Flags) Parity() bool    { return f&FlagParity != 0 }
func (f Flags) Adjust() bool    { return f&FlagAdjust != 0 }
func (f Flags) Zero() bool      { return f&FlagZero != 0 }
func (f Flags) Sign() bool      { return f&FlagSign != 0 }
func (f Flags) Trap() bool      { return f&FlagTrap != 0 }
func (f Flags) Interrupt() bool { return f&FlagInterrupt != 0 }
func (f Flags) Direction() bool { return f&FlagDirection != 0 }
func (f Flags) Overflow() bool  { return f&FlagOverflow != 0 }
func (f Flags) Resume() bool    { return f&FlagResume != 0 }
func (f Flags) ID() bool        { return f&FlagID != 0 }

// IOPL returns the two bit I/O privilege level.
func (f Flags) IOPL() uint8 { return uint8(f>>flagIOPLShift) & 3 }

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagCarry, "CF"},
	{FlagParity, "PF"},
	{FlagAdjust, "AF"},
	{FlagZero, "ZF"},
	{FlagSign, "SF"},
	{FlagTrap, "TF"},
	{FlagInterrupt, "IF"},
	{FlagDirection, "DF"},
	{FlagOverflow, "OF"},
	{FlagResume, "RF"},
	{FlagID, "ID"},
}

// String implements fmt.Stringer, in the style of gdb's eflags display.
func (f Flags) String() string {
	var b strings.Builder
	b.WriteString("[")
	for _, n := range flagNames {
		if f&n.flag != 0 {
			b.WriteString(" ")
			b.WriteString(n.name)
		}
	}
	if iopl := f.IOPL(); iopl != 0 {
		b.WriteString(" IOPL=")
		b.WriteByte('0' + iopl)
	}
	b.WriteString(" ]")
	return b.String()
}
