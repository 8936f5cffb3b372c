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

// Package device is a software model of the rasterizer. It fetches
// command buffers from memory, executes the state and fill commands
// against the bound color image, and raises the completion interrupt
// when a SYNC_FULL retires.
//
// The model only rasterizes what the driver needs to observe end-to-end
// behavior: rectangle fills in fill mode. Texturing and triangle
// walking are accepted but not rendered; their mode constraints are
// still enforced and violations surface as errors, standing in for the
// hardware freezes they cause on the real pipeline.
package device

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/polypoyo/libdragon/core/fault"
	"github.com/polypoyo/libdragon/core/log"
	"github.com/polypoyo/libdragon/rdp"
	"github.com/polypoyo/libdragon/rdp/rdram"
)

const (
	// ErrFlipCopy is returned when TEX_RECT_FLIP executes in copy mode.
	ErrFlipCopy = fault.Const("texture rectangle flip cannot be used in copy mode")
	// ErrTriFill is returned when a triangle executes in copy or fill mode.
	ErrTriFill = fault.Const("triangles cannot be used in copy or fill mode")
	// ErrTruncated is returned when a buffer ends mid-command.
	ErrTruncated = fault.Const("command buffer ends in the middle of a command")
)

type image struct {
	addr   uint32
	format uint32
	size   uint32
	width  uint32
	bound  bool
}

type scissor struct {
	x0, y0, x1, y1 uint32 // 10.2 fixed point
}

// Device executes command buffers synchronously on the caller's
// goroutine. All execution state is owned by that goroutine; only the
// interrupt surface and the completion latch are shared.
type Device struct {
	mem *rdram.Memory

	mu       sync.Mutex
	handlers map[int]func()
	nextID   int
	intr     bool
	syncFull uint64
	pending  bool
	onFetch  func(start, end uint32)

	start, end uint32
	modes      rdp.OtherModes
	color      image
	zImage     uint32
	scis       scissor
	fillColor  uint32
}

// New returns a Device executing against mem.
func New(mem *rdram.Memory) *Device {
	return &Device{mem: mem, handlers: map[int]func(){}}
}

// SetInterrupt enables or disables the completion interrupt. While
// disabled, SYNC_FULL still latches its word but no handler runs.
func (d *Device) SetInterrupt(enable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.intr = enable
}

// RegisterHandler adds f to the completion interrupt handlers and
// returns a function that removes it again.
func (d *Device) RegisterHandler(f func()) (unregister func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.handlers[id] = f
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers, id)
	}
}

// OnFetch installs a hook invoked with the (start, end) address range of
// every buffer before it executes. Used by the trace engine. Safe to
// call while buffers are being executed.
func (d *Device) OnFetch(f func(start, end uint32)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFetch = f
}

// Fetched returns the address range of the last buffer handed to Run.
func (d *Device) Fetched() (start, end uint32) {
	return d.start, d.end
}

// SyncFull returns the latched SYNC_FULL command word and whether a
// completion is pending acknowledgement.
func (d *Device) SyncFull() (word uint64, pending bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncFull, d.pending
}

// AckSyncFull acknowledges the pending completion, allowing the next
// SYNC_FULL to be latched.
func (d *Device) AckSyncFull() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = false
}

// Run executes the command buffer in memory range [start, end).
func (d *Device) Run(ctx context.Context, start, end uint32) error {
	if start > end {
		return errors.Errorf("invalid buffer range [0x%x..0x%x)", start, end)
	}
	d.start, d.end = start, end
	d.mu.Lock()
	f := d.onFetch
	d.mu.Unlock()
	if f != nil {
		f(start, end)
	}
	for addr := start; addr < end; {
		w := d.mem.Uint64(addr)
		n := uint32(rdp.OpcodeOf(w).Words())
		if addr+n*8 > end {
			return errors.Wrapf(ErrTruncated, "at 0x%x", addr)
		}
		if err := d.execute(ctx, addr, d.mem.Words(addr, int(n))); err != nil {
			return err
		}
		addr += n * 8
	}
	return nil
}

func (d *Device) execute(ctx context.Context, addr uint32, buf []uint64) error {
	w := buf[0]
	op := rdp.OpcodeOf(w)
	switch {
	case op == rdp.SetColorImage:
		d.color = image{
			addr:   rdp.Bits(w, 0, 25),
			format: rdp.Bits(w, 53, 55),
			size:   rdp.Bits(w, 51, 52),
			width:  rdp.Bits(w, 32, 41) + 1,
			bound:  true,
		}
	case op == rdp.SetZImage:
		d.zImage = rdp.Bits(w, 0, 25)
	case op == rdp.SetScissor:
		d.scis = scissor{
			x0: rdp.Bits(w, 44, 55), y0: rdp.Bits(w, 32, 43),
			x1: rdp.Bits(w, 12, 23), y1: rdp.Bits(w, 0, 11),
		}
	case op == rdp.SetFillColor:
		d.fillColor = uint32(rdp.Bits(w, 0, 31))
	case op == rdp.SetOtherModes:
		d.modes = rdp.DecodeOtherModes(w)
	case op == rdp.FillRect:
		d.fillRect(ctx, w)
	case op == rdp.TexRectFlip:
		if d.modes.CycleType == rdp.CycleCopy {
			return errors.Wrapf(ErrFlipCopy, "at 0x%x", addr)
		}
	case op.IsTriangle():
		if d.modes.CycleType >= rdp.CycleCopy {
			return errors.Wrapf(ErrTriFill, "at 0x%x", addr)
		}
	case op == rdp.SyncFull:
		d.raiseSyncFull(ctx, w)
	}
	return nil
}

// fillRect writes the fill color register over the rectangle, clipped
// by the scissor. In fill and copy mode the bottom-right edge is
// inclusive; in 1 and 2 cycle mode one subpixel is subtracted, which at
// integer coordinates makes it exclusive.
func (d *Device) fillRect(ctx context.Context, w uint64) {
	if !d.color.bound {
		log.W(ctx, "fill rectangle with no color image bound")
		return
	}
	x0, y0 := rdp.Bits(w, 12, 23)>>2, rdp.Bits(w, 0, 11)>>2
	x1, y1 := rdp.Bits(w, 44, 55)>>2, rdp.Bits(w, 32, 43)>>2
	if d.modes.CycleType < rdp.CycleCopy {
		if x1 > 0 {
			x1--
		}
		if y1 > 0 {
			y1--
		}
	}
	sx0, sy0 := d.scis.x0>>2, d.scis.y0>>2
	sx1, sy1 := d.scis.x1>>2, d.scis.y1>>2
	if x0 < sx0 {
		x0 = sx0
	}
	if y0 < sy0 {
		y0 = sy0
	}
	if sx1 > 0 && x1 > sx1-1 {
		x1 = sx1 - 1
	}
	if sy1 > 0 && y1 > sy1-1 {
		y1 = sy1 - 1
	}
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			d.plot(x, y)
		}
	}
}

// plot writes one pixel of the fill pattern. The fill color register
// holds a 32-bit pattern; narrower targets take the slice selected by
// the pixel's position within the pattern.
func (d *Device) plot(x, y uint32) {
	switch d.color.size {
	case 3: // 32-bit
		d.mem.SetUint32(d.color.addr+(y*d.color.width+x)*4, d.fillColor)
	case 2: // 16-bit
		v := uint16(d.fillColor)
		if x&1 == 0 {
			v = uint16(d.fillColor >> 16)
		}
		d.mem.SetUint16(d.color.addr+(y*d.color.width+x)*2, v)
	case 1: // 8-bit
		b := byte(d.fillColor >> (8 * (3 - (x & 3))))
		copy(d.mem.Bytes(d.color.addr+y*d.color.width+x, 1), []byte{b})
	}
}

func (d *Device) raiseSyncFull(ctx context.Context, w uint64) {
	d.mu.Lock()
	if d.pending {
		log.W(ctx, "sync full retired before the previous one was acknowledged")
	}
	d.syncFull = w
	d.pending = true
	enabled := d.intr
	handlers := make([]func(), 0, len(d.handlers))
	for _, f := range d.handlers {
		handlers = append(handlers, f)
	}
	d.mu.Unlock()

	log.D(ctx, "sync full retired: %016x", w)
	if enabled {
		for _, f := range handlers {
			f()
		}
	}
}
