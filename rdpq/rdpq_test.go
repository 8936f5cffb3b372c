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

package rdpq

import (
	"context"
	"testing"

	"github.com/polypoyo/libdragon/core/assert"
	"github.com/polypoyo/libdragon/core/log"
	"github.com/polypoyo/libdragon/rdp"
	"github.com/polypoyo/libdragon/rdp/device"
	"github.com/polypoyo/libdragon/rdp/rdram"
)

const (
	fbBase  = 0x2000
	fbWidth = 8
)

func newTestQueue(t *testing.T) (context.Context, *Queue, *rdram.Memory) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 20)
	dev := device.New(mem)
	arena := mem.NewAllocator(0x40000, 0x40000)
	q, err := New(ctx, Config{Memory: mem, Device: dev, Arena: arena})
	assert.For(ctx, "new").ThatError(err).Succeeded()
	return ctx, q, mem
}

// bindTarget emits the state commands for a 16-bit fill target covering
// the whole framebuffer.
func bindTarget(q *Queue) {
	q.SetColorImage(fbBase, rdp.RGBA16, fbWidth)
	q.SetScissor(0, 0, fbWidth, fbWidth)
	q.SetOtherModesRaw(uint64(rdp.CycleFill) << 52)
}

func checkPixels(ctx context.Context, mem *rdram.Memory, f func(x, y uint32) uint16) {
	for y := uint32(0); y < fbWidth; y++ {
		for x := uint32(0); x < fbWidth; x++ {
			assert.For(ctx, "pixel %d,%d", x, y).
				ThatInteger(int(mem.Uint16(fbBase + (y*fbWidth+x)*2))).
				Equals(int(f(x, y)))
		}
	}
}

func TestStreamingFill(t *testing.T) {
	ctx, q, mem := newTestQueue(t)
	defer q.Close()

	bindTarget(q)
	q.SetFillColor(0xFF0000FF) // opaque red
	q.FillRectangle(0, 0, fbWidth, fbWidth)
	signal := q.SyncFullSignal()
	assert.For(ctx, "wait").ThatError(q.Wait(ctx)).Succeeded()
	assert.For(ctx, "signal").ThatBoolean(signal.Fired()).IsTrue()

	checkPixels(ctx, mem, func(x, y uint32) uint16 { return 0xF801 })
}

func TestFillScissored(t *testing.T) {
	ctx, q, mem := newTestQueue(t)
	defer q.Close()

	bindTarget(q)
	q.SetScissor(0, 0, 4, 4)
	q.SetFillColor(0xFFFFFFFF)
	q.FillRectangle(0, 0, fbWidth, fbWidth)
	assert.For(ctx, "wait").ThatError(q.Wait(ctx)).Succeeded()

	checkPixels(ctx, mem, func(x, y uint32) uint16 {
		if x < 4 && y < 4 {
			return 0xFFFF
		}
		return 0
	})
}

func TestBlockFill(t *testing.T) {
	ctx, q, mem := newTestQueue(t)
	defer q.Close()

	bindTarget(q)
	q.SetFillColor(0xFF0000FF)
	q.FillRectangle(0, 0, fbWidth, fbWidth)

	q.BeginBlock()
	q.SetFillColor(0x00FF00FF) // opaque green
	q.FillRectangle(2, 2, 6, 6)
	b := q.EndBlock()
	q.RunBlock(b)
	assert.For(ctx, "wait").ThatError(q.Wait(ctx)).Succeeded()

	checkPixels(ctx, mem, func(x, y uint32) uint16 {
		if x >= 2 && x < 6 && y >= 2 && y < 6 {
			return 0x07C1
		}
		return 0xF801
	})

	// The block replays against whatever state is current: repaint the
	// target red, run the block again and expect the same result.
	q.SetFillColor(0xFF0000FF)
	q.FillRectangle(0, 0, fbWidth, fbWidth)
	q.RunBlock(b)
	assert.For(ctx, "wait").ThatError(q.Wait(ctx)).Succeeded()
	checkPixels(ctx, mem, func(x, y uint32) uint16 {
		if x >= 2 && x < 6 && y >= 2 && y < 6 {
			return 0x07C1
		}
		return 0xF801
	})

	b.Free()
	func() {
		defer func() { assert.For(ctx, "freed").That(recover()).IsNotNil() }()
		q.RunBlock(b)
	}()
}

// blockOpcodes walks the static words recorded in the block's buffer
// chain and returns their opcodes.
func blockOpcodes(b *Block) []rdp.Opcode {
	var ops []rdp.Opcode
	for i, buf := range b.bufs {
		end := buf.addr + buf.words*8
		if i == len(b.bufs)-1 {
			end = b.cur
		}
		for addr := buf.addr; addr < end; {
			w := b.q.mem.Uint64(addr)
			op := rdp.OpcodeOf(w)
			ops = append(ops, op)
			addr += uint32(op.Words()) * 8
		}
	}
	return ops
}

var testTile = TileDesc{Format: rdp.RGBA16, Line: 8, MaskS: 5, MaskT: 5}

func texTriangle(q *Queue) {
	q.Triangle(TriFmtTex,
		[]float32{10, 30, 0, 0, 1},
		[]float32{20, 10, 32, 0, 1},
		[]float32{30, 30, 32, 32, 1})
}

func TestAutosyncInsertsTileSync(t *testing.T) {
	ctx, q, _ := newTestQueue(t)
	defer q.Close()

	// Recording starts all-busy, so the first descriptor change syncs;
	// the triangle then marks the tile busy again, forcing a second
	// sync before the descriptor is rewritten.
	q.BeginBlock()
	q.SetTile(0, testTile)
	texTriangle(q)
	q.SetTile(0, testTile)
	b := q.EndBlock()

	assert.For(ctx, "opcodes").ThatSlice(blockOpcodes(b)).Equals([]rdp.Opcode{
		rdp.SyncTile, rdp.SetTile, rdp.TriTex, rdp.SyncTile, rdp.SetTile,
	})
}

func TestAutosyncDisabled(t *testing.T) {
	ctx, q, _ := newTestQueue(t)
	defer q.Close()

	q.SetAutosync(0)
	q.BeginBlock()
	q.SetTile(0, testTile)
	texTriangle(q)
	q.SetTile(0, testTile)
	b := q.EndBlock()

	assert.For(ctx, "opcodes").ThatSlice(blockOpcodes(b)).Equals([]rdp.Opcode{
		rdp.SetTile, rdp.TriTex, rdp.SetTile,
	})
}

func TestBlockSnapshotMatchesStreaming(t *testing.T) {
	ctx, q, _ := newTestQueue(t)
	defer q.Close()

	// The sequence syncs every category up front, so its busy state is
	// independent of what was busy when it starts.
	seq := func() {
		q.SyncTile()
		q.SyncLoad()
		q.SyncPipe()
		q.SetTile(0, testTile)
		q.LoadTile(0, 0, 0, 31, 31)
		texTriangle(q)
	}

	q.sync.mask = syncAllBusy
	seq()
	streaming := q.sync.mask

	q.BeginBlock()
	seq()
	b := q.EndBlock()

	assert.For(ctx, "snapshot").ThatInteger(int(b.autosync)).Equals(int(streaming))
	assert.For(ctx, "wait").ThatError(q.Wait(ctx)).Succeeded()
}

func TestNestedRecordingPanics(t *testing.T) {
	ctx, q, _ := newTestQueue(t)
	defer q.Close()

	q.BeginBlock()
	defer func() {
		assert.For(ctx, "panicked").That(recover()).IsNotNil()
		q.EndBlock()
	}()
	q.BeginBlock()
}

func TestBlockCallSplicesIntoRecording(t *testing.T) {
	ctx, q, mem := newTestQueue(t)
	defer q.Close()

	bindTarget(q)
	q.BeginBlock()
	q.SetFillColor(0x0000FFFF) // opaque blue
	q.FillRectangle(0, 0, 4, 4)
	inner := q.EndBlock()

	q.BeginBlock()
	q.RunBlock(inner)
	q.FillRectangle(4, 4, fbWidth, fbWidth)
	outer := q.EndBlock()

	q.RunBlock(outer)
	assert.For(ctx, "wait").ThatError(q.Wait(ctx)).Succeeded()
	checkPixels(ctx, mem, func(x, y uint32) uint16 {
		if x < 4 && y < 4 || x >= 4 && y >= 4 {
			return 0x003F // packed opaque blue
		}
		return 0
	})
}

func TestTextureRectangleFlipEdgeAdjust(t *testing.T) {
	ctx, q, _ := newTestQueue(t)
	defer q.Close()

	// In fill mode the lower-right edge is inclusive, so the resolved
	// command must have one subpixel removed from both coordinates.
	bindTarget(q)
	q.BeginBlock()
	q.TextureRectangleFlip(0, 0, 0, 4, 4, 0, 0, 1, 1)
	b := q.EndBlock()
	q.RunBlock(b)
	assert.For(ctx, "wait").ThatError(q.Wait(ctx)).Succeeded()

	var flip uint64
	for i, buf := range b.bufs {
		end := buf.addr + buf.words*8
		if i == len(b.bufs)-1 {
			end = b.cur
		}
		for addr := buf.addr; addr < end; addr += 8 {
			if w := q.mem.Uint64(addr); rdp.OpcodeOf(w) == rdp.TexRectFlip {
				flip = w
			}
		}
	}
	assert.For(ctx, "resolved").That(rdp.OpcodeOf(flip)).Equals(rdp.TexRectFlip)
	assert.For(ctx, "x1").ThatInteger(int(rdp.Bits(flip, 44, 55))).Equals(4*4 - 1)
	assert.For(ctx, "y1").ThatInteger(int(rdp.Bits(flip, 32, 43))).Equals(4*4 - 1)
}

func TestSyncFullCallbackRepeatsOnReplay(t *testing.T) {
	ctx, q, _ := newTestQueue(t)
	defer q.Close()

	fired := 0
	var gotArg uint32
	q.BeginBlock()
	q.SyncFull(func(arg uint32) { fired++; gotArg = arg }, 7)
	b := q.EndBlock()

	q.RunBlock(b)
	q.RunBlock(b)
	assert.For(ctx, "wait").ThatError(q.Wait(ctx)).Succeeded()
	assert.For(ctx, "fired").ThatInteger(fired).Equals(2)
	assert.For(ctx, "arg").ThatInteger(int(gotArg)).Equals(7)
}

func TestSyncFullSignalFiresOnce(t *testing.T) {
	ctx, q, _ := newTestQueue(t)
	defer q.Close()

	q.BeginBlock()
	signal := q.SyncFullSignal()
	b := q.EndBlock()

	// The second replay hits a consumed one-shot token; it must be
	// dropped, not fired again or panic.
	q.RunBlock(b)
	q.RunBlock(b)
	assert.For(ctx, "wait").ThatError(q.Wait(ctx)).Succeeded()
	assert.For(ctx, "signal").ThatBoolean(signal.Fired()).IsTrue()
}

func TestTriangleEncoding(t *testing.T) {
	ctx := log.Testing(t)

	f := TriFmtTexZ
	f.Tile = 3
	f.Levels = 2
	// Vertices deliberately out of y order.
	words := encodeTriangle(f,
		[]float32{30, 30, 32, 32, 1, 0.5},
		[]float32{10, 10, 0, 0, 1, 0.5},
		[]float32{20, 20, 32, 0, 1, 0.5})

	assert.For(ctx, "words").ThatInteger(len(words)).Equals(rdp.TriTexZ.Words())
	assert.For(ctx, "opcode").That(rdp.OpcodeOf(words[0])).Equals(rdp.TriTexZ)
	assert.For(ctx, "tile").ThatInteger(int(rdp.Bits(words[0], 48, 50))).Equals(3)
	assert.For(ctx, "levels").ThatInteger(int(rdp.Bits(words[0], 51, 53))).Equals(1)

	yh := rdp.SBits(words[0], 0, 13)
	ym := rdp.SBits(words[0], 16, 29)
	yl := rdp.SBits(words[0], 32, 45)
	assert.For(ctx, "yh").ThatInteger(int(yh)).Equals(40)
	assert.For(ctx, "ym").ThatInteger(int(ym)).Equals(80)
	assert.For(ctx, "yl").ThatInteger(int(yl)).Equals(120)
}

func TestTriangleShadeCoefficients(t *testing.T) {
	ctx := log.Testing(t)

	// Constant white shade: integer channel values of 255, and zero
	// gradients everywhere.
	v := func(x, y float32) []float32 { return []float32{x, y, 1, 1, 1, 1} }
	words := encodeTriangle(TriFmtShade, v(0, 0), v(10, 0), v(0, 10))

	assert.For(ctx, "words").ThatInteger(len(words)).Equals(rdp.TriShade.Words())
	for c := uint(0); c < 4; c++ {
		lo := 48 - 16*c
		assert.For(ctx, "channel %d", c).
			ThatInteger(int(rdp.Bits(words[4], lo, lo+15))).Equals(255)
	}
	for _, i := range []int{5, 9, 10} { // gradient words
		assert.For(ctx, "gradient word %d", i).That(words[i]).Equals(uint64(0))
	}
}

func TestTriangleWordCounts(t *testing.T) {
	ctx := log.Testing(t)
	v := []float32{1, 2, 0.5, 0.5, 0.5, 0.5, 1, 1, 1, 1}
	for _, f := range []TriangleFormat{
		TriFmtFill, TriFmtFillZ, TriFmtShade, TriFmtShadeZ,
		TriFmtTex, TriFmtTexZ, TriFmtShadeTex, TriFmtShadeTexZ,
	} {
		words := encodeTriangle(f, v, v, v)
		assert.For(ctx, "%v", f.Opcode()).
			ThatInteger(len(words)).Equals(f.Opcode().Words())
	}
}
