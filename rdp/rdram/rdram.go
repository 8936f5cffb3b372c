// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rdram models the unified memory the rasterizer and the command
// queue operate on. All multi-byte accesses are big-endian, matching the
// rasterizer's bus.
package rdram

import (
	"bytes"
	eb "encoding/binary"
	"fmt"

	"github.com/polypoyo/libdragon/core/data/binary"
	"github.com/polypoyo/libdragon/core/data/endian"
)

// Memory is a flat byte-addressable memory.
type Memory struct {
	data []byte
}

// New returns a Memory of the given size in bytes.
func New(size uint32) *Memory {
	return &Memory{data: make([]byte, size)}
}

// Size returns the size of the memory in bytes.
func (m *Memory) Size() uint32 { return uint32(len(m.data)) }

func (m *Memory) check(addr, size uint32) {
	if uint64(addr)+uint64(size) > uint64(len(m.data)) {
		panic(fmt.Errorf("Memory access [0x%x..0x%x) out of range [0..0x%x)",
			addr, addr+size, len(m.data)))
	}
}

// Bytes returns the memory slice [addr, addr+size).
// The slice aliases the memory, writes to it are visible to all readers.
func (m *Memory) Bytes(addr, size uint32) []byte {
	m.check(addr, size)
	return m.data[addr : addr+size]
}

// Uint16 reads the big-endian 16-bit value at addr.
func (m *Memory) Uint16(addr uint32) uint16 {
	m.check(addr, 2)
	return eb.BigEndian.Uint16(m.data[addr:])
}

// SetUint16 writes the big-endian 16-bit value at addr.
func (m *Memory) SetUint16(addr uint32, v uint16) {
	m.check(addr, 2)
	eb.BigEndian.PutUint16(m.data[addr:], v)
}

// Uint32 reads the big-endian 32-bit value at addr.
func (m *Memory) Uint32(addr uint32) uint32 {
	m.check(addr, 4)
	return eb.BigEndian.Uint32(m.data[addr:])
}

// SetUint32 writes the big-endian 32-bit value at addr.
func (m *Memory) SetUint32(addr uint32, v uint32) {
	m.check(addr, 4)
	eb.BigEndian.PutUint32(m.data[addr:], v)
}

// Uint64 reads the big-endian 64-bit value at addr.
func (m *Memory) Uint64(addr uint32) uint64 {
	m.check(addr, 8)
	return eb.BigEndian.Uint64(m.data[addr:])
}

// SetUint64 writes the big-endian 64-bit value at addr.
func (m *Memory) SetUint64(addr uint32, v uint64) {
	m.check(addr, 8)
	eb.BigEndian.PutUint64(m.data[addr:], v)
}

// Words reads count consecutive 64-bit words starting at addr.
func (m *Memory) Words(addr uint32, count int) []uint64 {
	out := make([]uint64, count)
	for i := range out {
		out[i] = m.Uint64(addr + uint32(i)*8)
	}
	return out
}

// Reader returns a binary.Reader over the memory range [addr, addr+size).
func (m *Memory) Reader(addr, size uint32) binary.Reader {
	return endian.Reader(bytes.NewReader(m.Bytes(addr, size)), eb.BigEndian)
}

// Allocator hands out ranges of the memory with a simple bump pointer.
// Freed storage is not reclaimed.
type Allocator struct {
	mem  *Memory
	head uint32
	end  uint32
}

// NewAllocator returns an Allocator serving addresses from the range
// [base, base+size).
func (m *Memory) NewAllocator(base, size uint32) *Allocator {
	m.check(base, size)
	return &Allocator{mem: m, head: base, end: base + size}
}

// Alloc returns the address of a fresh range of count bytes with the
// requested alignment. Alignment must be a power of two.
func (a *Allocator) Alloc(count, alignment uint32) uint32 {
	if alignment == 0 || alignment&(alignment-1) != 0 {
		panic(fmt.Errorf("Alignment %d is not a power of two", alignment))
	}
	addr := (a.head + alignment - 1) &^ (alignment - 1)
	if addr+count > a.end {
		panic(fmt.Errorf("Out of memory allocating %d bytes (head 0x%x, end 0x%x)",
			count, a.head, a.end))
	}
	a.head = addr + count
	return addr
}

// Free returns the amount of unallocated memory left in the allocator.
func (a *Allocator) Free() uint32 { return a.end - a.head }
