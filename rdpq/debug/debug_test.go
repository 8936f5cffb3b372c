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

package debug

import (
	"strings"
	"testing"

	"github.com/polypoyo/libdragon/core/assert"
	"github.com/polypoyo/libdragon/core/log"
	"github.com/polypoyo/libdragon/rdp"
	"github.com/polypoyo/libdragon/rdp/device"
	"github.com/polypoyo/libdragon/rdp/rdram"
	"github.com/polypoyo/libdragon/rdpq"
)

func word(op rdp.Opcode, hi24, lo uint32) uint64 {
	return uint64(op)<<56 | uint64(hi24&0xFFFFFF)<<32 | uint64(lo)
}

// capture returns a validator that collects diagnostics instead of
// logging them.
func capture() (*Validator, *[]Diagnostic) {
	diags := &[]Diagnostic{}
	v := &Validator{Report: func(d Diagnostic) { *diags = append(*diags, d) }}
	return v, diags
}

func (v *Validator) feed(words ...uint64) {
	addr := uint32(0x1000)
	for i := 0; i < len(words); {
		n := rdp.OpcodeOf(words[i]).Words()
		v.Command(addr, words[i:i+n])
		addr += uint32(n) * 8
		i += n
	}
}

// primCycle computes (prim - 0) * 0 + 1, legal in any mode and for any
// primitive.
var primCycle = rdp.CombinerCycle{
	RGB:   rdp.CombinerInputs{SubA: 3, SubB: 8, Mul: 16, Add: 6},
	Alpha: rdp.CombinerInputs{SubA: 3, SubB: 7, Mul: 7, Add: 6},
}

// texCycle references the first texture in both channels.
var texCycle = rdp.CombinerCycle{
	RGB:   rdp.CombinerInputs{SubA: 1, SubB: 8, Mul: 16, Add: 6},
	Alpha: rdp.CombinerInputs{SubA: 1, SubB: 7, Mul: 7, Add: 6},
}

func packCombiner(c0, c1 rdp.CombinerCycle) uint64 {
	w := uint64(rdp.SetCombine) << 56
	w |= uint64(c0.RGB.SubA&15)<<52 | uint64(c0.RGB.Mul&31)<<47 |
		uint64(c0.Alpha.SubA&7)<<44 | uint64(c0.Alpha.Mul&7)<<41
	w |= uint64(c1.RGB.SubA&15)<<37 | uint64(c1.RGB.Mul&31)<<32
	w |= uint64(c0.RGB.SubB&15)<<28 | uint64(c1.RGB.SubB&15)<<24 |
		uint64(c1.Alpha.SubA&7)<<21 | uint64(c1.Alpha.Mul&7)<<18
	w |= uint64(c0.RGB.Add&7)<<15 | uint64(c0.Alpha.SubB&7)<<12 | uint64(c0.Alpha.Add&7)<<9
	w |= uint64(c1.RGB.Add&7)<<6 | uint64(c1.Alpha.SubB&7)<<3 | uint64(c1.Alpha.Add&7)
	return w
}

var (
	scissorCmd = word(rdp.SetScissor, 0, 320*4<<12|240*4)
	colorCmd   = word(rdp.SetColorImage, 2<<19|319, 0x10000)
	fillRect   = word(rdp.FillRect, 100*4<<12|100*4, 0)
)

func somCmd(cycle uint32) uint64 { return word(rdp.SetOtherModes, cycle<<20, 0) }

// tri builds a zeroed triangle command of the given opcode, with the
// tile and level fields of the first word set.
func tri(op rdp.Opcode, tile, levels uint32) []uint64 {
	buf := make([]uint64, op.Words())
	buf[0] = uint64(op)<<56 | uint64(levels&7)<<51 | uint64(tile&7)<<48
	return buf
}

func TestDrawNeedsScissorAndColorImage(t *testing.T) {
	ctx := log.Testing(t)
	v, diags := capture()
	v.feed(somCmd(rdp.CycleOne), packCombiner(primCycle, primCycle), fillRect)
	assert.For(ctx, "errors").ThatInteger(v.Errors).Equals(2)
	assert.For(ctx, "scissor").ThatString((*diags)[0].Message).Contains("SET_SCISSOR")
	assert.For(ctx, "color").ThatString((*diags)[1].Message).Contains("SET_COLOR_IMAGE")
}

func TestStateChangeWhileBusyWarns(t *testing.T) {
	ctx := log.Testing(t)
	v, diags := capture()
	v.feed(
		scissorCmd, colorCmd, somCmd(rdp.CycleFill),
		word(rdp.SetFillColor, 0, 0xF801F801),
		fillRect,
		word(rdp.SetFillColor, 0, 0x07C107C1))
	assert.For(ctx, "errors").ThatInteger(v.Errors).Equals(0)
	assert.For(ctx, "warnings").ThatInteger(v.Warnings).Equals(1)
	assert.For(ctx, "message").ThatString((*diags)[0].Message).Contains("SYNC_PIPE")

	v.feed(
		word(rdp.SyncPipe, 0, 0),
		word(rdp.SetFillColor, 0, 0xFFFFFFFF))
	assert.For(ctx, "after sync").ThatInteger(v.Warnings).Equals(1)
}

// texScene emits a complete textured setup: a bound target, a tile
// descriptor and a first load of it.
func (v *Validator) texScene() {
	v.feed(
		scissorCmd, colorCmd, somCmd(rdp.CycleOne),
		packCombiner(texCycle, texCycle),
		word(rdp.SetTexImage, 2<<19|63, 0x20000),
		word(rdp.SetTile, 2<<19|8<<9, 0),
		word(rdp.LoadTile, 0, 31*4<<12|31*4))
}

func TestLoadToBusyTMEM(t *testing.T) {
	ctx := log.Testing(t)
	v, diags := capture()
	v.texScene()
	assert.For(ctx, "setup").ThatInteger(v.Errors).Equals(0)

	texRect := []uint64{word(rdp.TexRect, 8*4<<12|8*4, 0), 0}
	v.Command(0x2000, texRect)
	v.feed(word(rdp.LoadTile, 0, 31*4<<12|31*4))
	assert.For(ctx, "errors").ThatInteger(v.Errors).Equals(1)
	assert.For(ctx, "message").ThatString((*diags)[0].Message).Contains("SYNC_LOAD")

	v.feed(word(rdp.SyncLoad, 0, 0), word(rdp.LoadTile, 0, 31*4<<12|31*4))
	assert.For(ctx, "after sync").ThatInteger(v.Errors).Equals(1)
}

func TestSetTileWhileBusy(t *testing.T) {
	ctx := log.Testing(t)
	v, diags := capture()
	v.texScene()
	v.Command(0x2000, []uint64{word(rdp.TexRect, 8*4<<12|8*4, 0), 0})
	v.feed(word(rdp.SetTile, 2<<19|8<<9, 0))
	assert.For(ctx, "errors").ThatInteger(v.Errors).Equals(1)
	assert.For(ctx, "message").ThatString((*diags)[0].Message).Contains("SYNC_TILE")

	v.feed(word(rdp.SyncTile, 0, 0), word(rdp.SetTile, 2<<19|8<<9, 0))
	assert.For(ctx, "after sync").ThatInteger(v.Errors).Equals(1)
}

func TestCombinerLegality(t *testing.T) {
	ctx := log.Testing(t)
	v, diags := capture()
	// A zeroed combiner references the combined input everywhere, which
	// is undefined in 1-cycle mode.
	v.feed(
		scissorCmd, colorCmd, somCmd(rdp.CycleOne),
		word(rdp.SetCombine, 0, 0),
		fillRect)
	assert.For(ctx, "combined").ThatInteger(v.Errors).Equals(1)
	assert.For(ctx, "message").ThatString((*diags)[0].Message).Contains("1-cycle combiner")

	// Referencing a texture from an untextured primitive.
	v.feed(word(rdp.SyncPipe, 0, 0), packCombiner(texCycle, texCycle), fillRect)
	assert.For(ctx, "texture").ThatInteger(v.Errors).Equals(2)
	assert.For(ctx, "message").ThatString((*diags)[1].Message).Contains("texture")
}

func TestModeErrorReportedOnce(t *testing.T) {
	ctx := log.Testing(t)
	v, _ := capture()
	// The zeroed combiner is illegal in 1-cycle mode, but the mode words
	// only changed once, so only the first draw observing them reports.
	v.feed(
		scissorCmd, colorCmd, somCmd(rdp.CycleOne),
		word(rdp.SetCombine, 0, 0),
		fillRect, fillRect, fillRect)
	assert.For(ctx, "errors").ThatInteger(v.Errors).Equals(1)
}

func TestModeChangeWithoutDrawWarns(t *testing.T) {
	ctx := log.Testing(t)
	v, diags := capture()
	v.feed(
		scissorCmd, colorCmd, somCmd(rdp.CycleOne),
		packCombiner(primCycle, primCycle), fillRect,
		word(rdp.SyncPipe, 0, 0),
		somCmd(rdp.CycleTwo),
		word(rdp.SyncFull, 0, 0))
	assert.For(ctx, "errors").ThatInteger(v.Errors).Equals(0)
	assert.For(ctx, "warnings").ThatInteger(v.Warnings).Equals(1)
	assert.For(ctx, "message").ThatString((*diags)[0].Message).Contains("no draw")

	// The end of the trace reports the same way.
	v.feed(word(rdp.SyncPipe, 0, 0), somCmd(rdp.CycleOne))
	v.Flush()
	assert.For(ctx, "flushed").ThatInteger(v.Warnings).Equals(2)
}

func TestTrianglesNeedOneOrTwoCycleMode(t *testing.T) {
	ctx := log.Testing(t)
	v, diags := capture()
	v.feed(scissorCmd, colorCmd, somCmd(rdp.CycleFill))
	v.feed(tri(rdp.Tri, 0, 0)...)
	assert.For(ctx, "errors").ThatInteger(v.Errors).Equals(1)
	assert.For(ctx, "message").ThatString((*diags)[0].Message).Contains("fill")
}

func TestDepthChecks(t *testing.T) {
	ctx := log.Testing(t)
	v, diags := capture()
	const zCompare = 1 << 4
	v.feed(
		scissorCmd, colorCmd,
		word(rdp.SetOtherModes, rdp.CycleOne<<20, zCompare),
		packCombiner(primCycle, primCycle))
	v.feed(tri(rdp.TriZ, 0, 0)...)
	assert.For(ctx, "no z image").ThatInteger(v.Errors).Equals(1)
	assert.For(ctx, "message").ThatString((*diags)[0].Message).Contains("Z image")

	v.feed(word(rdp.SetZImage, 0, 0x30000))
	v.feed(tri(rdp.TriZ, 0, 0)...)
	assert.For(ctx, "with z image").ThatInteger(v.Errors).Equals(1)

	v.feed(word(rdp.SyncPipe, 0, 0))
	v.feed(tri(rdp.Tri, 0, 0)...)
	assert.For(ctx, "no vertex z").ThatInteger(v.Errors).Equals(2)
	last := (*diags)[len(*diags)-1]
	assert.For(ctx, "message").ThatString(last.Message).Contains("per-vertex depth")
}

func TestModeEchoInDiagnostics(t *testing.T) {
	ctx := log.Testing(t)
	v, diags := capture()
	v.feed(scissorCmd, colorCmd, somCmd(rdp.CycleFill))
	v.feed(tri(rdp.Tri, 0, 0)...)
	assert.For(ctx, "errors").ThatInteger(v.Errors).Equals(1)
	assert.For(ctx, "echo").ThatString((*diags)[0].Message).Contains("mode is")
}

func TestRingCoalescesGrowingFetch(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	s := &Session{ctx: ctx, cfg: Config{Memory: mem}}
	s.val, _ = capture()

	for i := 0; i < 3; i++ {
		mem.SetUint64(0x1000+uint32(i)*8, word(rdp.SyncPipe, 0, 0))
	}
	s.fetched(0x1000, 0x1008)
	s.fetched(0x1000, 0x1018)
	s.Process()
	assert.For(ctx, "one entry, three commands").ThatInteger(s.val.Processed).Equals(3)
	assert.For(ctx, "errors").ThatInteger(s.val.Errors).Equals(0)
}

func TestGrownBufferResumesTrace(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	s := &Session{ctx: ctx, cfg: Config{Memory: mem}}
	s.val, _ = capture()

	for i := 0; i < 3; i++ {
		mem.SetUint64(0x1000+uint32(i)*8, word(rdp.SyncPipe, 0, 0))
	}
	// The buffer grows after its first words were already traced; only
	// the appended words are walked, so nothing is counted twice.
	s.fetched(0x1000, 0x1008)
	s.Process()
	s.fetched(0x1000, 0x1018)
	s.Process()
	assert.For(ctx, "commands traced once").ThatInteger(s.val.Processed).Equals(3)
	assert.For(ctx, "errors").ThatInteger(s.val.Errors).Equals(0)
}

func TestRingShrinkIsAnError(t *testing.T) {
	ctx := log.Testing(t)
	s := &Session{ctx: ctx, cfg: Config{Memory: rdram.New(1 << 16)}}
	var diags *[]Diagnostic
	s.val, diags = capture()

	s.fetched(0x1000, 0x1020)
	s.fetched(0x1000, 0x1010)
	assert.For(ctx, "errors").ThatInteger(s.val.Errors).Equals(1)
	assert.For(ctx, "message").ThatString((*diags)[0].Message).Contains("shrank")
}

func TestRingDropsOldestWhenFull(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	s := &Session{ctx: ctx, cfg: Config{Memory: mem}}
	s.val, _ = capture()

	for i := uint32(0); i < ringCap+1; i++ {
		addr := 0x1000 + i*8
		mem.SetUint64(addr, word(rdp.SyncPipe, 0, 0))
		s.fetched(addr, addr+8)
	}
	assert.For(ctx, "dropped words").ThatInteger(int(s.Dropped())).Equals(1)
	assert.For(ctx, "drop warning").ThatInteger(s.val.Warnings).Equals(1)
	s.Process()
	assert.For(ctx, "validated rest").ThatInteger(s.val.Processed).Equals(ringCap)
}

func TestSessionTracesCleanStream(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 20)
	dev := device.New(mem)
	arena := mem.NewAllocator(0x40000, 0x40000)
	q, err := rdpq.New(ctx, rdpq.Config{Memory: mem, Device: dev, Arena: arena})
	assert.For(ctx, "new").ThatError(err).Succeeded()
	defer q.Close()

	s, err := Attach(ctx, Config{Queue: q, Memory: mem, Device: dev, Arena: arena})
	assert.For(ctx, "attach").ThatError(err).Succeeded()

	s.Log(true)
	s.Message("frame start")
	q.SetColorImage(0x2000, rdp.RGBA16, 8)
	q.SetScissor(0, 0, 8, 8)
	q.SetOtherModesRaw(uint64(rdp.CycleFill) << 52)
	q.SetFillColor(0xFF0000FF)
	q.FillRectangle(0, 0, 8, 8)
	s.Log(false)
	assert.For(ctx, "wait").ThatError(q.Wait(ctx)).Succeeded()

	s.Detach()
	assert.For(ctx, "errors").ThatInteger(s.Errors()).Equals(0)
	assert.For(ctx, "warnings").ThatInteger(s.Warnings()).Equals(0)
	assert.For(ctx, "log depth").ThatInteger(s.showLog).Equals(0)
}

func TestMessageRoundTrip(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	arena := mem.NewAllocator(0x1000, 0x1000)
	s := &Session{ctx: ctx, cfg: Config{Memory: mem, Arena: arena}}
	s.val, _ = capture()
	s.dis.Message = s.message

	addr := arena.Alloc(16, 8)
	copy(mem.Bytes(addr, 16), "hello\x00")
	b := &strings.Builder{}
	s.dis.Command(b, 0, []uint64{uint64(rdp.Debug)<<56 | uint64(rdp.DebugMessage)<<48 | uint64(addr)})
	assert.For(ctx, "text").ThatString(b.String()).Contains("hello")
}
