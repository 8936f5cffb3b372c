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

package device_test

import (
	"testing"

	"github.com/polypoyo/libdragon/core/assert"
	"github.com/polypoyo/libdragon/core/log"
	"github.com/polypoyo/libdragon/rdp"
	"github.com/polypoyo/libdragon/rdp/device"
	"github.com/polypoyo/libdragon/rdp/rdram"
)

const (
	cmdBase = 0x1000
	fbBase  = 0x2000
	fbWidth = 8
)

func writeCommands(mem *rdram.Memory, addr uint32, words ...uint64) (start, end uint32) {
	for i, w := range words {
		mem.SetUint64(addr+uint32(i)*8, w)
	}
	return addr, addr + uint32(len(words))*8
}

// setup16 returns the state commands binding an 8x8 RGBA16 framebuffer
// with a matching scissor, in fill mode.
func setup16(fill uint32) []uint64 {
	return []uint64{
		uint64(rdp.SetColorImage)<<56 | 2<<51 | (fbWidth-1)<<32 | fbBase,
		uint64(rdp.SetScissor)<<56 | uint64(fbWidth<<2)<<12 | uint64(fbWidth<<2),
		uint64(rdp.SetOtherModes)<<56 | uint64(rdp.CycleFill)<<52,
		uint64(rdp.SetFillColor)<<56 | uint64(fill),
	}
}

func TestFillRect(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	dev := device.New(mem)

	cmds := append(setup16(0xF001F001),
		uint64(rdp.FillRect)<<56|uint64(7<<2)<<44|uint64(7<<2)<<32)
	start, end := writeCommands(mem, cmdBase, cmds...)
	assert.For(ctx, "run").ThatError(dev.Run(ctx, start, end)).Succeeded()

	for y := uint32(0); y < fbWidth; y++ {
		for x := uint32(0); x < fbWidth; x++ {
			assert.For(ctx, "pixel %d,%d", x, y).
				ThatInteger(int(mem.Uint16(fbBase + (y*fbWidth+x)*2))).Equals(0xF001)
		}
	}
}

func TestFillRectScissored(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	dev := device.New(mem)

	cmds := setup16(0xFFFFFFFF)
	// Shrink the scissor to the top-left 4x4 quadrant, then fill everything.
	cmds[1] = uint64(rdp.SetScissor)<<56 | uint64(4<<2)<<12 | uint64(4<<2)
	cmds = append(cmds, uint64(rdp.FillRect)<<56|uint64(7<<2)<<44|uint64(7<<2)<<32)
	start, end := writeCommands(mem, cmdBase, cmds...)
	assert.For(ctx, "run").ThatError(dev.Run(ctx, start, end)).Succeeded()

	for y := uint32(0); y < fbWidth; y++ {
		for x := uint32(0); x < fbWidth; x++ {
			expected := 0
			if x < 4 && y < 4 {
				expected = 0xFFFF
			}
			assert.For(ctx, "pixel %d,%d", x, y).
				ThatInteger(int(mem.Uint16(fbBase + (y*fbWidth+x)*2))).Equals(expected)
		}
	}
}

func TestSyncFullInterrupt(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	dev := device.New(mem)

	fired := 0
	unregister := dev.RegisterHandler(func() { fired++ })
	defer unregister()
	dev.SetInterrupt(true)

	w := uint64(rdp.SyncFull)<<56 | uint64(0x123456)<<32 | 0xCAFEBABE
	start, end := writeCommands(mem, cmdBase, w)
	assert.For(ctx, "run").ThatError(dev.Run(ctx, start, end)).Succeeded()
	assert.For(ctx, "fired").ThatInteger(fired).Equals(1)

	latched, pending := dev.SyncFull()
	assert.For(ctx, "latched").That(latched).Equals(w)
	assert.For(ctx, "pending").ThatBoolean(pending).IsTrue()
	dev.AckSyncFull()
	_, pending = dev.SyncFull()
	assert.For(ctx, "acknowledged").ThatBoolean(pending).IsFalse()
}

func TestSyncFullMasked(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	dev := device.New(mem)

	fired := 0
	defer dev.RegisterHandler(func() { fired++ })()

	start, end := writeCommands(mem, cmdBase, uint64(rdp.SyncFull)<<56)
	assert.For(ctx, "run").ThatError(dev.Run(ctx, start, end)).Succeeded()
	assert.For(ctx, "masked").ThatInteger(fired).Equals(0)
	_, pending := dev.SyncFull()
	assert.For(ctx, "pending").ThatBoolean(pending).IsTrue()
}

func TestTriangleInFillMode(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	dev := device.New(mem)

	cmds := append(setup16(0),
		uint64(rdp.Tri)<<56, 0, 0, 0)
	start, end := writeCommands(mem, cmdBase, cmds...)
	err := dev.Run(ctx, start, end)
	assert.For(ctx, "error").ThatError(err).HasCause(device.ErrTriFill)
}

func TestFlipInCopyMode(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	dev := device.New(mem)

	start, end := writeCommands(mem, cmdBase,
		uint64(rdp.SetOtherModes)<<56|uint64(rdp.CycleCopy)<<52,
		uint64(rdp.TexRectFlip)<<56, 0)
	err := dev.Run(ctx, start, end)
	assert.For(ctx, "error").ThatError(err).HasCause(device.ErrFlipCopy)
}

func TestTruncatedBuffer(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	dev := device.New(mem)

	// TEX_RECT is two words; hand the device only the first.
	start, _ := writeCommands(mem, cmdBase, uint64(rdp.TexRect)<<56)
	err := dev.Run(ctx, start, start+8)
	assert.For(ctx, "error").ThatError(err).HasCause(device.ErrTruncated)
}

func TestFetchHookSwapWhileRunning(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	dev := device.New(mem)

	// Hooking and unhooking happens on the tracer's goroutine while the
	// consumer keeps executing; the swap must be safe under the race
	// detector.
	start, end := writeCommands(mem, cmdBase, uint64(rdp.SyncPipe)<<56)
	done := make(chan error, 1)
	go func() {
		var err error
		for i := 0; i < 200 && err == nil; i++ {
			err = dev.Run(ctx, start, end)
		}
		done <- err
	}()
	for i := 0; i < 200; i++ {
		dev.OnFetch(func(start, end uint32) {})
		dev.OnFetch(nil)
	}
	assert.For(ctx, "run").ThatError(<-done).Succeeded()
}

func TestFetchHook(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	dev := device.New(mem)

	var gotStart, gotEnd uint32
	dev.OnFetch(func(start, end uint32) { gotStart, gotEnd = start, end })
	start, end := writeCommands(mem, cmdBase, 0)
	assert.For(ctx, "run").ThatError(dev.Run(ctx, start, end)).Succeeded()
	assert.For(ctx, "start").ThatInteger(int(gotStart)).Equals(int(start))
	assert.For(ctx, "end").ThatInteger(int(gotEnd)).Equals(int(end))
}
