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

	"github.com/pkg/errors"
	"github.com/polypoyo/libdragon/rdp"
	"github.com/polypoyo/libdragon/rdp/device"
	"github.com/polypoyo/libdragon/rdp/rdram"
)

// executor runs the driver's coprocessor commands. It keeps a mirror of
// the rasterizer state that fixup commands depend on (render mode word,
// scissor, fill color, target bitdepth) and materializes final command
// words either into a scratch ring (dynamic commands) or into the block
// placeholder named by the record (fixup commands).
//
// All state is owned by the coprocessor queue's consumer goroutine.
type executor struct {
	mem *rdram.Memory
	dev *device.Device

	dynBase, dynEnd, dynCur uint32

	som     uint64 // last SET_OTHER_MODES word
	scissor uint64 // last SET_SCISSOR word, nominal exclusive coordinates
	fill32  uint32 // last 32-bit fill color
	target  uint32 // pixel size field of the bound color image
}

func newExecutor(mem *rdram.Memory, dev *device.Device, dynBase, dynSize uint32) *executor {
	return &executor{
		mem: mem, dev: dev,
		dynBase: dynBase, dynEnd: dynBase + dynSize, dynCur: dynBase,
		// Default scissor covering the maximum target, so mode changes
		// can always regenerate a scissor word.
		scissor: uint64(rdp.SetScissor)<<56 | 0xFFF<<12 | 0xFFF,
	}
}

// Size returns the record length in words of the given command id.
func (e *executor) Size(cmd uint32) int {
	switch cmd {
	case cmdScissor, cmdFillColor32, cmdColorImage, cmdOtherModes, cmdFillRect:
		return 2
	case cmdScissorFix, cmdFillColor32Fix, cmdColorImageFix, cmdOtherModesFix, cmdFillRectFix:
		return 3
	case cmdTexRect, cmdTexRectFlip:
		return 4
	case cmdTexRectFix, cmdTexRectFlipFix:
		return 5
	case cmdModifyModes:
		return 5
	case cmdModifyModesFix:
		return 6
	default:
		return rdp.Opcode(cmd).Words() * 2
	}
}

// Execute dispatches one record. Fixup ids are odd; their records start
// with the placeholder address, followed by the dynamic form's words.
func (e *executor) Execute(ctx context.Context, cmd uint32, rec []uint32) error {
	if cmd < cmdScissor || cmd > cmdTexRectFlipFix {
		return e.passthrough(ctx, cmd, rec)
	}
	fix := cmd&1 == 1
	addr := uint32(0)
	var args []uint32
	if fix {
		cmd--
		addr = rec[0] & 0xFFFFFF
		args = rec[1:]
	} else {
		args = append([]uint32{rec[0] & 0xFFFFFF}, rec[1:]...)
	}
	switch cmd {
	case cmdScissor:
		return e.emit(ctx, fix, addr, word(rdp.SetScissor, args[0], args[1]))
	case cmdFillColor32:
		e.fill32 = args[1]
		return e.emit(ctx, fix, addr, e.fillWord())
	case cmdColorImage:
		w := word(rdp.SetColorImage, args[0], args[1])
		e.target = rdp.Bits(w, 51, 52)
		return e.emit(ctx, fix, addr, w, e.fillWord())
	case cmdOtherModes:
		return e.emit(ctx, fix, addr,
			word(rdp.SetOtherModes, args[0], args[1]), e.scissor)
	case cmdModifyModes:
		const low56 = 1<<56 - 1
		mask := (uint64(args[1])<<32 | uint64(args[2])) & low56
		value := (uint64(args[3])<<32 | uint64(args[4])) & low56
		return e.emit(ctx, fix, addr, e.som&^mask|value, e.scissor)
	case cmdFillRect:
		return e.emit(ctx, fix, addr,
			e.edgeAdjust(word(rdp.FillRect, args[0], args[1])))
	case cmdTexRect:
		w0 := e.edgeAdjust(word(rdp.TexRect, args[0], args[1]))
		w1 := uint64(args[2])<<32 | uint64(args[3])
		if e.cycle() == rdp.CycleCopy {
			// The copy pipeline moves four texels per clock, so the
			// s increment is pre-scaled.
			dsdx := rdp.Bits(w1, 16, 31) << 2 & 0xFFFF
			w1 = w1&^(0xFFFF<<16) | uint64(dsdx)<<16
		}
		return e.emit(ctx, fix, addr, w0, w1)
	case cmdTexRectFlip:
		// No copy mode step scaling: the flipped form is rejected there.
		w0 := e.edgeAdjust(word(rdp.TexRectFlip, args[0], args[1]))
		return e.emit(ctx, fix, addr, w0, uint64(args[2])<<32|uint64(args[3]))
	default:
		return errors.Errorf("unhandled driver command %02x", cmd)
	}
}

func (e *executor) passthrough(ctx context.Context, cmd uint32, rec []uint32) error {
	op := rdp.Opcode(cmd)
	if op.Words()*2 != len(rec) {
		return errors.Errorf("malformed %v record of %d words", op, len(rec))
	}
	words := make([]uint64, op.Words())
	words[0] = word(op, rec[0], rec[1])
	for i := 1; i < len(words); i++ {
		words[i] = uint64(rec[i*2])<<32 | uint64(rec[i*2+1])
	}
	return e.emit(ctx, false, 0, words...)
}

// emit updates the state mirror from the final words, writes them to
// memory and hands the range to the rasterizer. Fixup words go to the
// block placeholder at addr, dynamic words to the scratch ring.
func (e *executor) emit(ctx context.Context, fix bool, addr uint32, words ...uint64) error {
	for _, w := range words {
		e.observe(w)
	}
	size := uint32(len(words)) * 8
	if !fix {
		if e.dynCur+size > e.dynEnd {
			e.dynCur = e.dynBase
		}
		addr = e.dynCur
		e.dynCur += size
	}
	for i, w := range words {
		e.mem.SetUint64(addr+uint32(i)*8, w)
	}
	return e.dev.Run(ctx, addr, addr+size)
}

func (e *executor) observe(w uint64) {
	switch rdp.OpcodeOf(w) {
	case rdp.SetOtherModes:
		e.som = w
	case rdp.SetScissor:
		e.scissor = w
	case rdp.SetColorImage:
		e.target = rdp.Bits(w, 51, 52)
	}
}

func (e *executor) cycle() uint8 {
	return uint8(rdp.Bits(e.som, 52, 53))
}

// fillWord encodes the fill color register for the bound target: the
// 32-bit color as-is for 32-bit targets, packed to 16 bits and
// replicated otherwise.
func (e *executor) fillWord() uint64 {
	c := e.fill32
	if e.target != 3 {
		p := (c>>24>>3)<<11 | (c>>16&0xFF>>3)<<6 | (c>>8&0xFF>>3)<<1 | c&0xFF>>7
		c = p<<16 | p
	}
	return word(rdp.SetFillColor, 0, c)
}

// edgeAdjust converts exclusive rectangle coordinates to the hardware
// convention: in copy and fill mode the lower-right edge is inclusive,
// so one subpixel is removed.
func (e *executor) edgeAdjust(w uint64) uint64 {
	if e.cycle() < rdp.CycleCopy {
		return w
	}
	x1, y1 := rdp.Bits(w, 44, 55), rdp.Bits(w, 32, 43)
	if x1 > 0 {
		x1--
	}
	if y1 > 0 {
		y1--
	}
	return w&^(0xFFFFFF<<32) | uint64(x1)<<44 | uint64(y1)<<32
}
