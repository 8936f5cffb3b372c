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

// Package rdp describes the rasterizer's command set: opcodes, packed
// state words, fixed point formats and a disassembler.
//
// Commands are sequences of big-endian 64-bit words. The opcode lives in
// bits 56-61 of the first word; most commands are a single word, the
// exceptions are texture rectangles (2 words) and triangles (4 to 22
// words depending on which coefficient blocks are attached).
package rdp

// Opcode identifies a command.
type Opcode uint8

const (
	// Nop does nothing.
	Nop = Opcode(0x00)
	// Tri fills a flat triangle.
	Tri = Opcode(0x08)
	// TriZ fills a flat triangle with depth.
	TriZ = Opcode(0x09)
	// TriTex fills a textured triangle.
	TriTex = Opcode(0x0A)
	// TriTexZ fills a textured triangle with depth.
	TriTexZ = Opcode(0x0B)
	// TriShade fills a gouraud shaded triangle.
	TriShade = Opcode(0x0C)
	// TriShadeZ fills a gouraud shaded triangle with depth.
	TriShadeZ = Opcode(0x0D)
	// TriTexShade fills a textured, shaded triangle.
	TriTexShade = Opcode(0x0E)
	// TriTexShadeZ fills a textured, shaded triangle with depth.
	TriTexShadeZ = Opcode(0x0F)
	// TexRect draws a textured rectangle.
	TexRect = Opcode(0x24)
	// TexRectFlip draws a textured rectangle with flipped s/t axes.
	TexRectFlip = Opcode(0x25)
	// SyncLoad waits for pending texture loads before reusing TMEM.
	SyncLoad = Opcode(0x26)
	// SyncPipe waits for the pipeline to drain before changing state.
	SyncPipe = Opcode(0x27)
	// SyncTile waits for pending tile reads before changing a descriptor.
	SyncTile = Opcode(0x28)
	// SyncFull waits for the full frame to hit memory and raises the
	// completion interrupt.
	SyncFull = Opcode(0x29)
	// SetKeyGB configures green/blue chroma key ranges.
	SetKeyGB = Opcode(0x2A)
	// SetKeyR configures the red chroma key range.
	SetKeyR = Opcode(0x2B)
	// SetConvert configures the YUV conversion coefficients.
	SetConvert = Opcode(0x2C)
	// SetScissor configures the scissor rectangle.
	SetScissor = Opcode(0x2D)
	// SetPrimDepth configures the primitive depth register.
	SetPrimDepth = Opcode(0x2E)
	// SetOtherModes configures the render mode word.
	SetOtherModes = Opcode(0x2F)
	// LoadTLUT loads a palette into upper TMEM.
	LoadTLUT = Opcode(0x30)
	// Debug is a queue-internal command, skipped by the rasterizer.
	Debug = Opcode(0x31)
	// SetTileSize sets the extents of a tile descriptor.
	SetTileSize = Opcode(0x32)
	// LoadBlock performs a contiguous texture load into TMEM.
	LoadBlock = Opcode(0x33)
	// LoadTile loads a texture sub-rectangle into TMEM.
	LoadTile = Opcode(0x34)
	// SetTile configures a tile descriptor.
	SetTile = Opcode(0x35)
	// FillRect fills a rectangle.
	FillRect = Opcode(0x36)
	// SetFillColor sets the fill color register.
	SetFillColor = Opcode(0x37)
	// SetFogColor sets the fog color register.
	SetFogColor = Opcode(0x38)
	// SetBlendColor sets the blend color register.
	SetBlendColor = Opcode(0x39)
	// SetPrimColor sets the primitive color register.
	SetPrimColor = Opcode(0x3A)
	// SetEnvColor sets the environment color register.
	SetEnvColor = Opcode(0x3B)
	// SetCombine configures the color combiner word.
	SetCombine = Opcode(0x3C)
	// SetTexImage points the texture loader at a memory image.
	SetTexImage = Opcode(0x3D)
	// SetZImage points the depth buffer at a memory image.
	SetZImage = Opcode(0x3E)
	// SetColorImage points the framebuffer at a memory image.
	SetColorImage = Opcode(0x3F)
)

// DebugShowLog and DebugMessage are the sub-commands of Debug,
// stored in bits 48-55 of the command word.
const (
	DebugShowLog = 0x01
	DebugMessage = 0x02
)

// OpcodeOf returns the opcode of the command starting with word w.
func OpcodeOf(w uint64) Opcode {
	return Opcode(Bits(w, 56, 61))
}

// Words returns the number of 64-bit words the command occupies.
func (o Opcode) Words() int {
	switch o {
	default:
		return 1
	case TexRect, TexRectFlip:
		return 2
	case Tri:
		return 4
	case TriZ:
		return 6
	case TriTex:
		return 12
	case TriTexZ:
		return 14
	case TriShade:
		return 12
	case TriShadeZ:
		return 14
	case TriTexShade:
		return 20
	case TriTexShadeZ:
		return 22
	}
}

// IsTriangle returns true for the eight triangle opcodes.
func (o Opcode) IsTriangle() bool { return o >= Tri && o <= TriTexShadeZ }

// HasShade returns true if the triangle opcode carries shade coefficients.
func (o Opcode) HasShade() bool { return o.IsTriangle() && o&0x4 != 0 }

// HasTexture returns true if the triangle opcode carries texture coefficients.
func (o Opcode) HasTexture() bool { return o.IsTriangle() && o&0x2 != 0 }

// HasDepth returns true if the triangle opcode carries depth coefficients.
func (o Opcode) HasDepth() bool { return o.IsTriangle() && o&0x1 != 0 }

func (o Opcode) String() string {
	switch o {
	case Nop:
		return "NOP"
	case Tri:
		return "TRI"
	case TriZ:
		return "TRI_Z"
	case TriTex:
		return "TRI_TEX"
	case TriTexZ:
		return "TRI_TEX_Z"
	case TriShade:
		return "TRI_SHADE"
	case TriShadeZ:
		return "TRI_SHADE_Z"
	case TriTexShade:
		return "TRI_TEX_SHADE"
	case TriTexShadeZ:
		return "TRI_TEX_SHADE_Z"
	case TexRect:
		return "TEX_RECT"
	case TexRectFlip:
		return "TEX_RECT_FLIP"
	case SyncLoad:
		return "SYNC_LOAD"
	case SyncPipe:
		return "SYNC_PIPE"
	case SyncTile:
		return "SYNC_TILE"
	case SyncFull:
		return "SYNC_FULL"
	case SetKeyGB:
		return "SET_KEY_GB"
	case SetKeyR:
		return "SET_KEY_R"
	case SetConvert:
		return "SET_CONVERT"
	case SetScissor:
		return "SET_SCISSOR"
	case SetPrimDepth:
		return "SET_PRIM_DEPTH"
	case SetOtherModes:
		return "SET_OTHER_MODES"
	case LoadTLUT:
		return "LOAD_TLUT"
	case Debug:
		return "RDPQ_DEBUG"
	case SetTileSize:
		return "SET_TILE_SIZE"
	case LoadBlock:
		return "LOAD_BLOCK"
	case LoadTile:
		return "LOAD_TILE"
	case SetTile:
		return "SET_TILE"
	case FillRect:
		return "FILL_RECT"
	case SetFillColor:
		return "SET_FILL_COLOR"
	case SetFogColor:
		return "SET_FOG_COLOR"
	case SetBlendColor:
		return "SET_BLEND_COLOR"
	case SetPrimColor:
		return "SET_PRIM_COLOR"
	case SetEnvColor:
		return "SET_ENV_COLOR"
	case SetCombine:
		return "SET_COMBINE_MODE"
	case SetTexImage:
		return "SET_TEX_IMAGE"
	case SetZImage:
		return "SET_Z_IMAGE"
	case SetColorImage:
		return "SET_COLOR_IMAGE"
	default:
		return "???"
	}
}

// Bits extracts the bit range [lo..hi] of v as an unsigned quantity.
func Bits(v uint64, lo, hi uint) uint32 {
	return uint32(v << (63 - hi) >> (63 - hi + lo))
}

// Bit returns true if bit b of v is set.
func Bit(v uint64, b uint) bool {
	return Bits(v, b, b) != 0
}

// SBits extracts the bit range [lo..hi] of v as a signed quantity.
func SBits(v uint64, lo, hi uint) int32 {
	return int32(int64(v) << (63 - hi) >> (63 - hi + lo))
}
