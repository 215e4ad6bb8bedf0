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

package vbox

import (
	"fmt"
)

// Descriptor is DBGFCOREDESCRIPTOR, the payload of the NoteTypeCore note.
type Descriptor struct {
	// Magic must be CoreMagic.
	Magic uint32

	// FormatVersion selects the register block layout.
	FormatVersion uint32

	// SizeSelf is the producer's sizeof(DBGFCOREDESCRIPTOR).
	SizeSelf uint32

	// VBoxVersion and VBoxRevision identify the producing VirtualBox.
	VBoxVersion  uint32
	VBoxRevision uint32

	// CPUs is the number of virtual CPUs, and so the number of NoteTypeCPU
	// notes that follow.
	CPUs uint32
}

// SizeBytes returns the encoded size of a Descriptor.
func (d *Descriptor) SizeBytes() int {
	return DescriptorSize
}

// UnmarshalBytes decodes src into d. src must be at least SizeBytes long.
func (d *Descriptor) UnmarshalBytes(src []byte) []byte {
	d.Magic = ByteOrder.Uint32(src[:4])
	src = src[4:]
	d.FormatVersion = ByteOrder.Uint32(src[:4])
	src = src[4:]
	d.SizeSelf = ByteOrder.Uint32(src[:4])
	src = src[4:]
	d.VBoxVersion = ByteOrder.Uint32(src[:4])
	src = src[4:]
	d.VBoxRevision = ByteOrder.Uint32(src[:4])
	src = src[4:]
	d.CPUs = ByteOrder.Uint32(src[:4])
	return src[4:]
}

// MarshalBytes encodes d into dst. dst must be at least SizeBytes long.
func (d *Descriptor) MarshalBytes(dst []byte) []byte {
	ByteOrder.PutUint32(dst[:4], d.Magic)
	dst = dst[4:]
	ByteOrder.PutUint32(dst[:4], d.FormatVersion)
	dst = dst[4:]
	ByteOrder.PutUint32(dst[:4], d.SizeSelf)
	dst = dst[4:]
	ByteOrder.PutUint32(dst[:4], d.VBoxVersion)
	dst = dst[4:]
	ByteOrder.PutUint32(dst[:4], d.VBoxRevision)
	dst = dst[4:]
	ByteOrder.PutUint32(dst[:4], d.CPUs)
	return dst[4:]
}

// ErrBadMagic is returned by Validate for a foreign descriptor.
type ErrBadMagic struct {
	Magic uint32
}

// Error implements error.Error.
func (e ErrBadMagic) Error() string {
	return fmt.Sprintf("unsupported core format: magic %#x, want %#x", e.Magic, uint32(CoreMagic))
}

// ErrBadVersion is returned for a format version outside the supported range.
type ErrBadVersion struct {
	Version uint32
}

// Error implements error.Error.
func (e ErrBadVersion) Error() string {
	return fmt.Sprintf("unsupported core version %#x, want [%#x, %#x]", e.Version, uint32(FormatVersionCompat), uint32(FormatVersion))
}

// ErrTooManyCPUs is returned for a descriptor declaring more than MaxCPUs.
type ErrTooManyCPUs struct {
	CPUs uint32
}

// Error implements error.Error.
func (e ErrTooManyCPUs) Error() string {
	return fmt.Sprintf("core declares %d CPUs, at most %d supported", e.CPUs, MaxCPUs)
}

// Validate performs basic sanity checking on the descriptor.
func (d *Descriptor) Validate() error {
	if d.Magic != CoreMagic {
		return ErrBadMagic{d.Magic}
	}
	if _, err := LayoutFor(d.FormatVersion); err != nil {
		return err
	}
	if d.CPUs > MaxCPUs {
		return ErrTooManyCPUs{d.CPUs}
	}
	return nil
}

// VersionString formats VBoxVersion as major.minor.build.
func (d *Descriptor) VersionString() string {
	return fmt.Sprintf("%d.%d.%dr%d", d.VBoxVersion>>24, (d.VBoxVersion>>16)&0xff, d.VBoxVersion&0xffff, d.VBoxRevision)
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return fmt.Sprintf("core{magic=%#x version=%#x vbox=%s cpus=%d}", d.Magic, d.FormatVersion, d.VersionString(), d.CPUs)
}
