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
	"fmt"

	"github.com/polypoyo/libdragon/core/math/interval"
	"github.com/polypoyo/libdragon/rdp"
)

// Diagnostic is one validator finding. Errors describe command streams
// with undefined hardware behavior; warnings describe legal but
// suspicious usage.
type Diagnostic struct {
	Error   bool
	Addr    uint32
	Message string
}

// tile is the shadow of one tile descriptor.
type tile struct {
	fmt     rdp.TexFormat
	addr    uint32 // TMEM byte address
	pitch   uint32 // bytes per row
	pal     uint32
	s0, t0  float32
	s1, t1  float32
	sized   bool
	busy    bool
	defined bool
}

// Validator is a shadow of the rasterizer pipeline state, mutated only
// by replaying the emitted command stream. It trusts nothing the
// producer tracked for itself, so it also catches bugs in the
// producer's own hazard bookkeeping.
//
// Render mode and combiner legality is validated lazily at the next
// draw, because the two words may arrive in either order and only
// their combination is meaningful.
type Validator struct {
	// Report receives every diagnostic. Counters are updated whether or
	// not it is set.
	Report func(Diagnostic)

	Errors   int
	Warnings int
	// Processed counts validated commands, including re-validation.
	Processed int

	som    rdp.OtherModes
	somSet bool
	cc     rdp.Combiner
	ccSet  bool
	texFmt rdp.TexFormat
	texSet bool

	tiles    [8]tile
	tmemBusy interval.U64SpanList
	pipeBusy bool

	// modeDirty marks mode state changed since the last draw; the
	// legality of the combination is only checked once, at the next
	// draw. modeAddr is the first change of the batch.
	modeDirty bool
	modeAddr  uint32

	sentScissor bool
	sentColor   bool
	sentZprim   bool
	boundZ      bool
}

// Reset discards all shadow state, as at trace session start.
func (v *Validator) Reset() {
	*v = Validator{Report: v.Report}
}

const (
	echoSOM = 1 << iota
	echoCC
	echoTEX
)

func (v *Validator) report(err bool, addr uint32, echo int, format string, args ...interface{}) {
	if err {
		v.Errors++
	} else {
		v.Warnings++
	}
	msg := fmt.Sprintf(format, args...)
	if echo&echoSOM != 0 && v.somSet {
		msg += fmt.Sprintf("; mode is: %v", v.som)
	}
	if echo&echoCC != 0 && v.ccSet {
		msg += fmt.Sprintf("; combiner is: %v", v.cc)
	}
	if echo&echoTEX != 0 && v.texSet {
		msg += fmt.Sprintf("; texture image is: %v", v.texFmt)
	}
	if v.Report != nil {
		v.Report(Diagnostic{Error: err, Addr: addr, Message: msg})
	}
}

func (v *Validator) errorf(addr uint32, echo int, format string, args ...interface{}) {
	v.report(true, addr, echo, format, args...)
}

func (v *Validator) warnf(addr uint32, echo int, format string, args ...interface{}) {
	v.report(false, addr, echo, format, args...)
}

// markModes flags the mode state dirty, keeping the address of the
// first change in the batch for reporting.
func (v *Validator) markModes(addr uint32) {
	if !v.modeDirty {
		v.modeAddr = addr
	}
	v.modeDirty = true
}

// flushModes warns when mode changes reach the named point in the
// stream with no draw between to make them observable.
func (v *Validator) flushModes(at string) {
	if v.modeDirty {
		v.warnf(v.modeAddr, 0, "mode change with no draw before %s", at)
		v.modeDirty = false
	}
}

// Flush reports the pending lazy state. Call it when the traced stream
// ends; commands validated afterwards start a new stream.
func (v *Validator) Flush() {
	v.flushModes("end of trace")
}

// busyPipe warns when a state command lands while a draw may still be
// in flight. A race, not certain corruption, hence a warning.
func (v *Validator) busyPipe(addr uint32, what string) {
	if v.pipeBusy {
		v.warnf(addr, 0, "%s while pipeline is busy, missing SYNC_PIPE", what)
	}
}

// Command validates one command and folds it into the shadow state.
func (v *Validator) Command(addr uint32, buf []uint64) {
	v.Processed++
	w := buf[0]
	op := rdp.OpcodeOf(w)
	switch op {
	case rdp.SetColorImage:
		v.busyPipe(addr, "SET_COLOR_IMAGE")
		if rdp.Bits(w, 0, 25)&63 != 0 {
			v.errorf(addr, 0, "color image address must be 64-byte aligned")
		}
		f := rdp.MakeTexFormat(uint8(rdp.Bits(w, 53, 55)), uint8(rdp.Bits(w, 51, 52)))
		switch f {
		case rdp.RGBA32, rdp.RGBA16, rdp.CI8:
		default:
			v.errorf(addr, 0, "color image format %v is not renderable", f)
		}
		v.sentColor = true

	case rdp.SetZImage:
		v.busyPipe(addr, "SET_Z_IMAGE")
		if rdp.Bits(w, 0, 25)&63 != 0 {
			v.errorf(addr, 0, "Z image address must be 64-byte aligned")
		}
		v.boundZ = true

	case rdp.SetTexImage:
		if rdp.Bits(w, 0, 25)&7 != 0 {
			v.errorf(addr, 0, "texture image address must be 8-byte aligned")
		}
		v.texFmt = rdp.MakeTexFormat(uint8(rdp.Bits(w, 53, 55)), uint8(rdp.Bits(w, 51, 52)))
		v.texSet = true

	case rdp.SetScissor:
		v.sentScissor = true

	case rdp.SetOtherModes:
		v.busyPipe(addr, "SET_OTHER_MODES")
		v.som = rdp.DecodeOtherModes(w)
		v.somSet = true
		v.markModes(addr)

	case rdp.SetCombine:
		v.busyPipe(addr, "SET_COMBINE_MODE")
		v.cc = rdp.DecodeCombiner(w)
		v.ccSet = true
		v.markModes(addr)

	case rdp.SetFillColor, rdp.SetFogColor, rdp.SetBlendColor, rdp.SetEnvColor:
		v.busyPipe(addr, op.String())

	case rdp.SetPrimColor:
		// Double-buffered in hardware, safe while drawing.

	case rdp.SetPrimDepth:
		v.sentZprim = true

	case rdp.SetTile:
		v.setTile(addr, w)
	case rdp.SetTileSize:
		v.setTileSize(addr, w)
	case rdp.LoadTile:
		v.loadTile(addr, w)
	case rdp.LoadBlock:
		v.loadBlock(addr, w)
	case rdp.LoadTLUT:
		v.loadTLUT(addr, w)

	case rdp.SyncPipe:
		v.pipeBusy = false
	case rdp.SyncTile:
		for i := range v.tiles {
			v.tiles[i].busy = false
		}
	case rdp.SyncLoad:
		v.tmemBusy = v.tmemBusy[:0]
	case rdp.SyncFull:
		v.flushModes("SYNC_FULL")
		v.pipeBusy = false
		for i := range v.tiles {
			v.tiles[i].busy = false
		}
		v.tmemBusy = v.tmemBusy[:0]

	case rdp.FillRect:
		v.draw(addr, drawOp{})
	case rdp.TexRect, rdp.TexRectFlip:
		t := int(rdp.Bits(w, 24, 26))
		v.draw(addr, drawOp{tex: true, tile: t})
	default:
		if op.IsTriangle() {
			v.draw(addr, drawOp{
				triangle: true,
				tex:      op.HasTexture(),
				shade:    op.HasShade(),
				z:        op.HasDepth(),
				w:        op.HasTexture(),
				tile:     int(rdp.Bits(w, 48, 50)),
				levels:   int(rdp.Bits(w, 51, 53)),
			})
		}
	}
}

func (v *Validator) setTile(addr uint32, w uint64) {
	t := int(rdp.Bits(w, 24, 26))
	if v.tiles[t].busy {
		v.errorf(addr, 0, "tile %d is used by a pending draw, missing SYNC_TILE", t)
	}
	f := rdp.MakeTexFormat(uint8(rdp.Bits(w, 53, 55)), uint8(rdp.Bits(w, 51, 52)))
	tmem := rdp.Bits(w, 32, 40) * 8
	if f == rdp.CI8 && rdp.Bits(w, 20, 23) != 0 {
		v.warnf(addr, 0, "tile %d: palette is ignored for 8-bit color index", t)
	}
	if (f == rdp.RGBA32 || f == rdp.YUV16) && tmem >= 0x800 {
		v.errorf(addr, 0, "tile %d: %v textures must sit in lower TMEM", t, f)
	}
	v.tiles[t] = tile{
		fmt:     f,
		addr:    tmem,
		pitch:   rdp.Bits(w, 41, 49) * 8,
		pal:     rdp.Bits(w, 20, 23),
		defined: true,
	}
}

func (v *Validator) setTileSize(addr uint32, w uint64) {
	t := int(rdp.Bits(w, 24, 26))
	v.tiles[t].s0 = rdp.FromFixed(rdp.Bits(w, 44, 55), 2)
	v.tiles[t].t0 = rdp.FromFixed(rdp.Bits(w, 32, 43), 2)
	v.tiles[t].s1 = rdp.FromFixed(rdp.Bits(w, 12, 23), 2)
	v.tiles[t].t1 = rdp.FromFixed(rdp.Bits(w, 0, 11), 2)
	v.tiles[t].sized = true
}

// markTMEM records that the given TMEM byte range is read by a pending
// draw. Loads check against these ranges.
func (v *Validator) markTMEM(lo, hi uint32) {
	if hi > 0x1000 {
		hi = 0x1000
	}
	if lo >= hi {
		return
	}
	interval.Merge(&v.tmemBusy, interval.U64Span{Start: uint64(lo), End: uint64(hi)}, true)
}

func (v *Validator) checkTMEM(addr uint32, lo, hi uint32, what string) {
	_, n := interval.Intersect(v.tmemBusy, interval.U64Span{Start: uint64(lo), End: uint64(hi)})
	if n > 0 {
		v.errorf(addr, 0, "%s overwrites TMEM [0x%x,0x%x) read by a pending draw, missing SYNC_LOAD",
			what, lo, hi)
	}
}

func (v *Validator) loadTile(addr uint32, w uint64) {
	t := int(rdp.Bits(w, 24, 26))
	tl := &v.tiles[t]
	if tl.fmt.Size() == 0 {
		v.errorf(addr, echoTEX, "LOAD_TILE cannot load 4-bit formats, use LOAD_BLOCK")
	}
	v.setTileSize(addr, w)
	rows := uint32(tl.t1-tl.t0) + 1
	v.checkTMEM(addr, tl.addr, tl.addr+rows*tl.pitch, "LOAD_TILE")
}

func (v *Validator) loadBlock(addr uint32, w uint64) {
	t := int(rdp.Bits(w, 24, 26))
	tl := &v.tiles[t]
	texels := rdp.Bits(w, 12, 23) + 1
	v.checkTMEM(addr, tl.addr, tl.addr+texels*tl.fmt.BitsPerPixel()/8, "LOAD_BLOCK")
	tl.sized = true
}

func (v *Validator) loadTLUT(addr uint32, w uint64) {
	t := int(rdp.Bits(w, 24, 26))
	tl := &v.tiles[t]
	if v.texSet && v.texFmt != rdp.RGBA16 {
		v.errorf(addr, echoTEX, "LOAD_TLUT source must be 16-bit RGBA")
	}
	if tl.addr < 0x800 {
		v.errorf(addr, 0, "LOAD_TLUT must target upper TMEM (palette area)")
	}
	first, last := rdp.Bits(w, 46, 55), rdp.Bits(w, 14, 23)
	if last >= 256 {
		v.errorf(addr, 0, "LOAD_TLUT palette index %d out of range", last)
	}
	if rdp.Bits(w, 44, 45) != 0 || rdp.Bits(w, 12, 13) != 0 {
		v.warnf(addr, 0, "LOAD_TLUT fractional palette indices are ignored")
	}
	v.checkTMEM(addr, tl.addr, tl.addr+(last-first+1)*8, "LOAD_TLUT")
}

// drawOp describes the attributes a draw command carries.
type drawOp struct {
	triangle bool
	tex      bool
	shade    bool
	z        bool
	w        bool // textured with a per-vertex w coordinate
	tile     int
	levels   int
}

func (v *Validator) draw(addr uint32, d drawOp) {
	if !v.sentScissor {
		v.errorf(addr, 0, "draw before any SET_SCISSOR")
	}
	if !v.sentColor {
		v.errorf(addr, 0, "draw before any SET_COLOR_IMAGE")
	}
	copyFill := v.somSet && v.som.CycleType >= rdp.CycleCopy
	if d.triangle && copyFill {
		v.errorf(addr, echoSOM, "triangles cannot be drawn in copy or fill mode")
	}
	if !copyFill {
		if v.modeDirty {
			v.checkModes(addr)
		}
		v.checkDraw(addr, d)
	}
	v.modeDirty = false
	if d.tex && !copyFill {
		v.useTile(addr, d.tile, 0)
	} else if d.tex {
		v.useTile(addr, d.tile, -1)
	}
	if d.levels > 0 && v.somSet && !v.som.TexLOD {
		v.warnf(addr, echoSOM, "multiple mipmap levels without LOD enabled")
	}
	v.pipeBusy = true
}

// checkModes runs the deferred render mode and combiner legality
// checks. They only depend on the mode words, so they run once per
// batch of mode changes, at the first draw observing the combination.
func (v *Validator) checkModes(addr uint32) {
	if !v.ccSet {
		v.errorf(addr, echoSOM, "draw before any SET_COMBINE_MODE")
		return
	}
	som, cc := v.som, v.cc
	if v.somSet {
		if som.BlenderConfigured() && !som.Blend && !som.AA {
			v.warnf(addr, echoSOM, "blender is configured but both blending and antialiasing are off")
		}
		if som.TexLOD && som.CycleType != rdp.CycleTwo {
			v.errorf(addr, echoSOM, "LOD requires 2-cycle mode")
		}
		if (som.TexSharpen || som.TexDetail) && !som.TexLOD {
			v.errorf(addr, echoSOM, "sharpen and detail texturing require LOD")
		}
	}

	oneCycle := !v.somSet || som.CycleType == rdp.CycleOne
	if oneCycle {
		// In 1-cycle mode the hardware runs the second combiner cycle.
		// Slot index 6 is the alpha multiplier, where selector 0 picks
		// LOD_FRAC rather than the combined input.
		for i, s := range cc.Cyc[1].Slots() {
			if (s == rdp.SlotCombined && i != 6) || s == rdp.SlotTex1 {
				v.errorf(addr, echoCC, "1-cycle combiner cannot reference the combined or second texture inputs")
				break
			}
		}
		if cc.Cyc[1].RGB.Mul == rdp.SlotCombinedAlpha || cc.Cyc[1].RGB.Mul == rdp.SlotTex1Alpha {
			v.errorf(addr, echoCC, "1-cycle combiner cannot reference the combined or second texture inputs")
		}
		if cc.Cyc[0] != cc.Cyc[1] {
			v.warnf(addr, echoCC, "combiner cycles should match in 1-cycle mode")
		}
		return
	}
	// 2-cycle mode.
	for i, s := range cc.Cyc[0].Slots() {
		if s == rdp.SlotCombined && i != 6 {
			v.errorf(addr, echoCC, "first combiner cycle cannot reference the combined input")
			break
		}
	}
	for _, s := range cc.Cyc[1].Slots() {
		if s == rdp.SlotTex1 {
			v.errorf(addr, echoCC, "second combiner cycle cannot reference the second texture")
			break
		}
	}
	if b := som.Blender[0]; som.BlenderConfigured() && b.B != 0 && !(b.B == 2 && b.A == 3) {
		v.errorf(addr, echoSOM, "first blender cycle cannot use the memory input")
	}
}

// checkDraw verifies the mode state against this draw's attributes:
// the inputs the pipeline references must exist on the primitive.
// These depend on the command, so they run at every draw.
func (v *Validator) checkDraw(addr uint32, d drawOp) {
	som := v.som
	if d.tex && !d.w && v.somSet && som.TexPersp {
		v.errorf(addr, echoSOM, "perspective correction without a per-vertex w coordinate")
	}
	if !d.shade && v.somSet && som.BlenderConfigured() &&
		(som.Blender[0].A == 2 || som.Blender[1].A == 2) {
		v.errorf(addr, echoSOM, "blender references shade alpha but the primitive has none")
	}
	if v.somSet && (som.ZCompare || som.ZUpdate) {
		switch {
		case !v.boundZ:
			v.errorf(addr, echoSOM, "depth testing without a Z image bound")
		case som.ZPrim:
			if !v.sentZprim {
				v.errorf(addr, echoSOM, "primitive depth source but SET_PRIM_DEPTH never sent")
			} else if d.z {
				v.warnf(addr, echoSOM, "per-vertex depth is ignored with the primitive depth source")
			}
		case !d.z:
			v.errorf(addr, echoSOM, "depth testing needs a per-vertex depth")
		}
	}
	if !v.somSet || som.CycleType == rdp.CycleOne {
		v.checkSlots(addr, d, v.cc.Cyc[1])
	} else {
		v.checkSlots(addr, d, v.cc.Cyc[0])
		v.checkSlots(addr, d, v.cc.Cyc[1])
	}
}

// checkSlots verifies that one combiner cycle only references inputs
// the primitive actually carries.
func (v *Validator) checkSlots(addr uint32, d drawOp, c rdp.CombinerCycle) {
	if !d.tex {
		for _, s := range c.Slots() {
			if s == rdp.SlotTex0 || s == rdp.SlotTex1 {
				v.errorf(addr, echoCC, "combiner references a texture but the primitive has none")
				break
			}
		}
		if c.RGB.Mul == rdp.SlotTex0Alpha || c.RGB.Mul == rdp.SlotTex1Alpha {
			v.errorf(addr, echoCC, "combiner references a texture but the primitive has none")
		}
	}
	if !d.shade {
		bad := c.RGB.Mul == rdp.SlotShadeAlpha
		for _, s := range c.Slots() {
			bad = bad || s == rdp.SlotShade
		}
		if bad {
			v.errorf(addr, echoCC, "combiner references shade but the primitive has none")
		}
	}
}

// useTile validates a draw's reference to a tile descriptor and marks
// its TMEM footprint busy. depth limits the second-texture recursion;
// -1 skips the mode cross-checks for copy mode draws.
func (v *Validator) useTile(addr uint32, t, depth int) {
	tl := &v.tiles[t]
	if !tl.defined || !tl.sized {
		v.errorf(addr, 0, "draw with tile %d before its descriptor and size are set", t)
		return
	}
	tl.busy = true
	if depth >= 0 {
		if tl.fmt.Format() == 2 && !v.som.TLUT { // color index
			v.errorf(addr, echoSOM, "tile %d is color-indexed but palettes are disabled", t)
		}
		if v.somSet && v.som.TLUT && tl.fmt.Format() != 2 {
			v.warnf(addr, echoSOM, "palettes are enabled but tile %d is not color-indexed", t)
		}
		if tl.fmt == rdp.YUV16 && v.somSet && v.som.TFMode == 6 {
			v.errorf(addr, echoSOM, "tile %d is YUV but color conversion is disabled", t)
		}
	}
	rows := uint32(tl.t1-tl.t0) + 1
	v.markTMEM(tl.addr, tl.addr+rows*tl.pitch)
	switch {
	case tl.fmt == rdp.RGBA32 || tl.fmt == rdp.YUV16:
		// Split formats keep half of each texel in the upper bank.
		v.markTMEM(tl.addr+0x800, tl.addr+0x800+rows*tl.pitch)
	case tl.fmt == rdp.CI4:
		v.markTMEM(0x800+tl.pal*64, 0x800+tl.pal*64+64)
	case tl.fmt == rdp.CI8:
		v.markTMEM(0x800, 0x1000)
	}
	// A second cycle referencing the next texture walks tile t+1 too.
	if depth == 0 && v.somSet && v.som.CycleType == rdp.CycleTwo && v.referencesTex1() {
		v.useTile(addr, (t+1)&7, 1)
	}
}

func (v *Validator) referencesTex1() bool {
	if !v.ccSet {
		return false
	}
	for _, c := range v.cc.Cyc {
		for _, s := range c.Slots() {
			if s == rdp.SlotTex1 {
				return true
			}
		}
		if c.RGB.Mul == rdp.SlotTex1Alpha {
			return true
		}
	}
	return v.cc.Cyc[1].RGB.Mul == rdp.SlotCombinedAlpha &&
		v.cc.Cyc[0].RGB.Mul == rdp.SlotTex0Alpha
}
