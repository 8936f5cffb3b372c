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

// Package rdpq is the rasterizer driver. It encodes typed operations
// into the rasterizer's command format and delivers them either through
// the coprocessor queue for immediate execution, or into a recorded
// block for later replay. On the way it tracks resource hazards and
// inserts the minimal sync commands needed to keep reuse safe.
//
// Commands whose final encoding depends on rasterizer state only known
// at execution time (cycle type, target bitdepth) are emitted as fixup
// commands: the executor on the consumer side resolves them against its
// state mirror, either into a scratch area (streaming) or into the
// placeholder reserved for them in the block buffer.
package rdpq

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/polypoyo/libdragon/rdp"
	"github.com/polypoyo/libdragon/rdp/device"
	"github.com/polypoyo/libdragon/rdp/rdram"
	"github.com/polypoyo/libdragon/rspq"
)

// overlayBase is the coprocessor header byte range claimed by the
// driver. The relative command id of a passthrough record equals the
// rasterizer opcode; fixup commands use the free id space below 0x24.
const overlayBase = 0xC0

// Fixup command ids, in dynamic/placeholder pairs. The placeholder
// variant carries the block address its resolved words are written to.
const (
	cmdScissor        = 0x10
	cmdScissorFix     = 0x11
	cmdFillColor32    = 0x12
	cmdFillColor32Fix = 0x13
	cmdColorImage     = 0x14
	cmdColorImageFix  = 0x15
	cmdOtherModes     = 0x16
	cmdOtherModesFix  = 0x17
	cmdTexRect        = 0x18
	cmdTexRectFix     = 0x19
	cmdFillRect       = 0x1A
	cmdFillRectFix    = 0x1B
	cmdModifyModes    = 0x1C
	cmdModifyModesFix = 0x1D
	cmdTexRectFlip    = 0x1E
	cmdTexRectFlipFix = 0x1F
)

// Config carries the collaborators of a Queue.
type Config struct {
	Memory *rdram.Memory
	Device *device.Device
	// Arena serves the block buffer chains and the executor's dynamic
	// command area.
	Arena *rdram.Allocator
	// DynamicSize is the size in bytes of the dynamic command area.
	// Zero selects a default large enough for any single command.
	DynamicSize uint32
}

// Queue is the driver context: the command writer, the block recorder,
// the autosync tracker and the completion bridge, bound to one
// coprocessor queue and one rasterizer.
//
// Command emission is not safe for concurrent use; the completion
// surface (SyncFull registration and dispatch) is.
type Queue struct {
	ctx   context.Context
	mem   *rdram.Memory
	dev   *device.Device
	rsp   *rspq.Queue
	arena *rdram.Allocator
	exec  *executor

	stream streamSink
	sink   sink
	block  *Block
	sync   autosync

	unhook func()

	mu      sync.Mutex
	tokens  map[uint32]*completion
	nextTok uint32
}

// New initializes the driver: it starts the coprocessor queue, claims
// the driver's command id range, and hooks the completion interrupt.
func New(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Memory == nil || cfg.Device == nil || cfg.Arena == nil {
		return nil, errors.New("driver needs a memory, a device and an arena")
	}
	dynSize := cfg.DynamicSize
	if dynSize == 0 {
		dynSize = 4096
	}
	rsp, err := rspq.Init(ctx, rspq.Config{Memory: cfg.Memory, Device: cfg.Device})
	if err != nil {
		return nil, err
	}
	q := &Queue{
		ctx:     ctx,
		mem:     cfg.Memory,
		dev:     cfg.Device,
		rsp:     rsp,
		arena:   cfg.Arena,
		tokens:  map[uint32]*completion{},
		nextTok: 1,
	}
	dynBase := cfg.Arena.Alloc(dynSize, 8)
	q.exec = newExecutor(cfg.Memory, cfg.Device, dynBase, dynSize)
	if err := rsp.RegisterOverlay(overlayBase, 0x40, q.exec); err != nil {
		rsp.Close()
		return nil, errors.Wrap(err, "claiming the driver command range")
	}
	q.stream = streamSink{q: q}
	q.sink = q.stream
	q.sync.cfg = AutosyncDefault
	q.unhook = rsp.RegisterDPHandler(q.onCompletion)
	rsp.SetDPInterrupt(true)
	return q, nil
}

// Close drains the queue, unhooks the completion interrupt and returns
// the first execution error, if any.
func (q *Queue) Close() error {
	q.rsp.SetDPInterrupt(false)
	q.unhook()
	return q.rsp.Close()
}

// Wait blocks until every emitted command has retired.
func (q *Queue) Wait(ctx context.Context) error {
	return q.rsp.Wait(ctx)
}

func word(op rdp.Opcode, hi24, lo uint32) uint64 {
	return uint64(op)<<56 | uint64(hi24&0xFFFFFF)<<32 | uint64(lo)
}

// Raw emits pre-encoded commands without hazard tracking. words must
// hold whole commands.
func (q *Queue) Raw(words ...uint64) {
	for i := 0; i < len(words); {
		n := rdp.OpcodeOf(words[i]).Words()
		if i+n > len(words) {
			n = len(words) - i
		}
		q.sink.write(words[i : i+n]...)
		i += n
	}
}

// SyncPipe waits for the pipeline to drain. State commands are safe to
// issue after it.
func (q *Queue) SyncPipe() {
	q.sync.mask &^= syncPipe
	q.sink.write(word(rdp.SyncPipe, 0, 0))
}

// SyncTile waits for outstanding tile descriptor reads.
func (q *Queue) SyncTile() {
	q.sync.mask &^= syncTiles
	q.sink.write(word(rdp.SyncTile, 0, 0))
}

// SyncLoad waits for outstanding texture memory reads before a load may
// overwrite them.
func (q *Queue) SyncLoad() {
	q.sync.mask &^= syncTMEMs
	q.sink.write(word(rdp.SyncLoad, 0, 0))
}

// SetOtherModesRaw replaces the render mode word. modes holds the low
// 56 bits of a SET_OTHER_MODES command.
func (q *Queue) SetOtherModesRaw(modes uint64) {
	q.syncChange(syncPipe)
	q.sink.fixup(cmdOtherModes, 2, uint32(modes>>32), uint32(modes))
}

// ModifyOtherModesRaw clears the mask bits of the render mode word and
// sets the given value bits in their place.
func (q *Queue) ModifyOtherModesRaw(mask, value uint64) {
	q.syncChange(syncPipe)
	q.sink.fixup(cmdModifyModes, 2, 0,
		uint32(mask>>32), uint32(mask), uint32(value>>32), uint32(value))
}

// SetCombineRaw replaces the color combiner word. cc holds the low 56
// bits of a SET_COMBINE command.
func (q *Queue) SetCombineRaw(cc uint64) {
	q.syncChange(syncPipe)
	q.sink.write(word(rdp.SetCombine, uint32(cc>>32), uint32(cc)))
}

// SetScissor restricts rendering to the pixel rectangle
// [x0,x1) x [y0,y1). The hardware double-buffers the scissor, so no
// pipeline sync is needed.
func (q *Queue) SetScissor(x0, y0, x1, y1 int) {
	hi := (uint32(x0*4)&0xFFF)<<12 | uint32(y0*4)&0xFFF
	lo := (uint32(x1*4)&0xFFF)<<12 | uint32(y1*4)&0xFFF
	q.sink.fixup(cmdScissor, 1, hi, lo)
}

// SetColorImage binds the framebuffer: addr must be 64-byte aligned,
// width is in pixels. The fill color register is re-encoded for the new
// bitdepth.
func (q *Queue) SetColorImage(addr uint32, f rdp.TexFormat, width uint32) {
	q.syncChange(syncPipe)
	hi := uint32(f.Format())<<21 | uint32(f.Size())<<19 | (width - 1)
	q.sink.fixup(cmdColorImage, 2, hi, addr)
}

// SetTextureImage points the texture loader at a memory image.
func (q *Queue) SetTextureImage(addr uint32, f rdp.TexFormat, width uint32) {
	hi := uint32(f.Format())<<21 | uint32(f.Size())<<19 | (width - 1)
	q.sink.write(word(rdp.SetTexImage, hi, addr))
}

// SetZImage binds the depth buffer. addr must be 64-byte aligned.
func (q *Queue) SetZImage(addr uint32) {
	q.syncChange(syncPipe)
	q.sink.write(word(rdp.SetZImage, 0, addr))
}

// SetFillColor sets the fill color from a packed 32-bit RGBA value. The
// hardware register holds a bitdepth-specific pattern, so the encoding
// is resolved against the bound color image at execution time.
func (q *Queue) SetFillColor(rgba uint32) {
	q.syncChange(syncPipe)
	q.sink.fixup(cmdFillColor32, 1, 0, rgba)
}

// SetFillPattern sets the raw 32-bit fill register pattern.
func (q *Queue) SetFillPattern(pattern uint32) {
	q.syncChange(syncPipe)
	q.sink.write(word(rdp.SetFillColor, 0, pattern))
}

// SetFogColor sets the fog color register.
func (q *Queue) SetFogColor(rgba uint32) {
	q.syncChange(syncPipe)
	q.sink.write(word(rdp.SetFogColor, 0, rgba))
}

// SetBlendColor sets the blend color register.
func (q *Queue) SetBlendColor(rgba uint32) {
	q.syncChange(syncPipe)
	q.sink.write(word(rdp.SetBlendColor, 0, rgba))
}

// SetPrimColor sets the primitive color register together with its
// minimum LOD and LOD fraction. The register is double-buffered in
// hardware, so no sync is needed.
func (q *Queue) SetPrimColor(rgba uint32, minLOD, lodFrac uint8) {
	hi := uint32(minLOD&0x1F)<<8 | uint32(lodFrac)
	q.sink.write(word(rdp.SetPrimColor, hi, rgba))
}

// SetEnvColor sets the environment color register.
func (q *Queue) SetEnvColor(rgba uint32) {
	q.syncChange(syncPipe)
	q.sink.write(word(rdp.SetEnvColor, 0, rgba))
}

// SetPrimDepth sets the primitive depth registers, used in place of
// per-vertex depth when the z-source mode selects them.
func (q *Queue) SetPrimDepth(z uint16, dz int16) {
	q.sink.write(word(rdp.SetPrimDepth, 0, uint32(z)<<16|uint32(uint16(dz))))
}

// SetConvert sets the YUV conversion coefficients, 9 bits each.
func (q *Queue) SetConvert(k0, k1, k2, k3, k4, k5 int32) {
	w := uint64(rdp.SetConvert) << 56
	for i, k := range []int32{k0, k1, k2, k3, k4, k5} {
		w |= uint64(uint32(k)&0x1FF) << uint(45-9*i)
	}
	q.syncChange(syncPipe)
	q.sink.write(w)
}

// SetKeyGB configures the green and blue chroma key ranges.
func (q *Queue) SetKeyGB(wg, cg, sg, wb, cb, sb uint32) {
	hi := wg<<12 | wb&0xFFF
	lo := cg<<24 | sg<<16 | cb<<8 | sb
	q.syncChange(syncPipe)
	q.sink.write(word(rdp.SetKeyGB, hi, lo))
}

// SetKeyR configures the red chroma key range.
func (q *Queue) SetKeyR(wr, cr, sr uint32) {
	q.syncChange(syncPipe)
	q.sink.write(word(rdp.SetKeyR, 0, wr<<16|cr<<8|sr))
}

// TileDesc describes a tile: where its texture lives in TMEM and how
// coordinates wrap into it.
type TileDesc struct {
	Format  rdp.TexFormat
	Line    uint32 // row pitch in 64-bit TMEM words
	Addr    uint32 // TMEM address in 64-bit words
	Palette uint32

	ClampT, MirrorT bool
	MaskT, ShiftT   uint32
	ClampS, MirrorS bool
	MaskS, ShiftS   uint32
}

func bit(b bool, n uint) uint64 {
	if b {
		return 1 << n
	}
	return 0
}

// SetTile configures a tile descriptor. A sync is inserted if the tile
// is still referenced by an outstanding command.
func (q *Queue) SetTile(tile int, d TileDesc) {
	q.syncChange(syncTile(tile))
	w := uint64(rdp.SetTile)<<56 |
		uint64(d.Format.Format())<<53 | uint64(d.Format.Size())<<51 |
		uint64(d.Line&0x1FF)<<41 | uint64(d.Addr&0x1FF)<<32 |
		uint64(tile&7)<<24 | uint64(d.Palette&0xF)<<20 |
		bit(d.ClampT, 19) | bit(d.MirrorT, 18) |
		uint64(d.MaskT&0xF)<<14 | uint64(d.ShiftT&0xF)<<10 |
		bit(d.ClampS, 9) | bit(d.MirrorS, 8) |
		uint64(d.MaskS&0xF)<<4 | uint64(d.ShiftS&0xF)
	q.sink.write(w)
}

func q102(v float32) uint32 { return uint32(int32(v*4)) & 0xFFF }

// SetTileSize sets the coordinate extents of a tile, in texels.
func (q *Queue) SetTileSize(tile int, s0, t0, s1, t1 float32) {
	q.syncChange(syncTile(tile))
	hi := q102(s0)<<12 | q102(t0)
	lo := uint32(tile&7)<<24 | q102(s1)<<12 | q102(t1)
	q.sink.write(word(rdp.SetTileSize, hi, lo))
}

// LoadTile copies the [s0,s1] x [t0,t1] texel rectangle of the bound
// texture image into the tile's TMEM region, syncing first if that
// region is still being read.
func (q *Queue) LoadTile(tile int, s0, t0, s1, t1 float32) {
	q.syncChange(syncTMEM(0))
	hi := q102(s0)<<12 | q102(t0)
	lo := uint32(tile&7)<<24 | q102(s1)<<12 | q102(t1)
	q.sink.write(word(rdp.LoadTile, hi, lo))
	q.syncUse(syncTile(tile) | syncTMEM(0))
}

// LoadBlock performs a contiguous load of texels into the tile's TMEM
// region. dxt is the 1.11 fixed point rows-per-texel increment.
func (q *Queue) LoadBlock(tile, s0, t0, texels int, dxt uint32) {
	q.syncChange(syncTMEM(0))
	hi := uint32(s0&0xFFF)<<12 | uint32(t0&0xFFF)
	lo := uint32(tile&7)<<24 | uint32((texels-1)&0xFFF)<<12 | dxt&0xFFF
	q.sink.write(word(rdp.LoadBlock, hi, lo))
	q.syncUse(syncTile(tile) | syncTMEM(0))
}

// LoadTLUT loads palette entries [first, last] through the tile into
// upper TMEM.
func (q *Queue) LoadTLUT(tile, first, last int) {
	q.syncChange(syncTMEM(0))
	hi := uint32(first*4) << 12
	lo := uint32(tile&7)<<24 | uint32(last*4)<<12
	q.sink.write(word(rdp.LoadTLUT, hi, lo))
	q.syncUse(syncTile(tile) | syncTMEM(0))
}

// FillRectangle fills the pixel rectangle [x0,x1) x [y0,y1) with the
// fill color. The hardware edge convention depends on the cycle type,
// so the final coordinates are resolved at execution time.
func (q *Queue) FillRectangle(x0, y0, x1, y1 int) {
	q.syncUse(syncPipe)
	hi := (uint32(x1*4)&0xFFF)<<12 | uint32(y1*4)&0xFFF
	lo := (uint32(x0*4)&0xFFF)<<12 | uint32(y0*4)&0xFFF
	q.sink.fixup(cmdFillRect, 1, hi, lo)
}

func q105(v float32) uint32 { return uint32(int32(v*32)) & 0xFFFF }
func q510(v float32) uint32 { return uint32(int32(v*1024)) & 0xFFFF }

// TextureRectangle draws the tile's texture over the pixel rectangle
// [x0,x1) x [y0,y1), starting at texel (s,t) and stepping by
// (dsdx, dtdy) per pixel. Edge convention and the copy-mode step width
// are resolved at execution time.
func (q *Queue) TextureRectangle(tile int, x0, y0, x1, y1, s, t, dsdx, dtdy float32) {
	q.syncUse(syncPipe | syncTile(tile) | syncTMEM(0))
	hi := q102(x1)<<12 | q102(y1)
	lo := uint32(tile&7)<<24 | q102(x0)<<12 | q102(y0)
	q.sink.fixup(cmdTexRect, 2, hi,
		lo, q105(s)<<16|q105(t), q510(dsdx)<<16|q510(dtdy))
}

// TextureRectangleFlip draws like TextureRectangle but with the s axis
// stepping vertically and t horizontally. Not available in copy mode.
// The edge convention still depends on the cycle type, so the final
// coordinates are resolved at execution time too.
func (q *Queue) TextureRectangleFlip(tile int, x0, y0, x1, y1, s, t, dtdx, dsdy float32) {
	q.syncUse(syncPipe | syncTile(tile) | syncTMEM(0))
	hi := q102(x1)<<12 | q102(y1)
	lo := uint32(tile&7)<<24 | q102(x0)<<12 | q102(y0)
	q.sink.fixup(cmdTexRectFlip, 2, hi,
		lo, q105(s)<<16|q105(t), q510(dtdx)<<16|q510(dsdy))
}
