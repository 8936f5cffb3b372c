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

package rdp

import (
	"bytes"
	"fmt"
	"io"
)

var (
	fmtNames  = [8]string{"rgba", "yuv", "ci", "ia", "i", "?fmt=5?", "?fmt=6?", "?fmt=7?"}
	sizeNames = [4]string{"4", "8", "16", "32"}
)

// Disassembler renders commands in textual form.
type Disassembler struct {
	// Message resolves the text of a debug message command from the
	// memory address stored in its low bits. If nil, the raw address is
	// shown instead.
	Message func(addr uint32) string
}

// Disassemble renders the command starting at buf[0] with a default
// Disassembler. addr is the memory address of the command, used to
// prefix each output line.
func Disassemble(addr uint32, buf []uint64) string {
	b := &bytes.Buffer{}
	d := Disassembler{}
	d.Command(b, addr, buf)
	return b.String()
}

// Command writes the textual form of the command starting at buf[0],
// located at addr. buf must hold at least OpcodeOf(buf[0]).Words() words.
func (d *Disassembler) Command(out io.Writer, addr uint32, buf []uint64) {
	w := buf[0]
	fmt.Fprintf(out, "[%08x] %016x    ", addr, w)

	// word prints a follow-up line for the i'th word of the command,
	// aligned with the first line's mnemonic column.
	word := func(i int, format string, args ...interface{}) {
		fmt.Fprintf(out, "[%08x] %016x                     ", addr+uint32(i)*8, buf[i])
		fmt.Fprintf(out, format, args...)
	}

	op := OpcodeOf(w)
	switch op {
	default:
		fmt.Fprintf(out, "???\n")
	case Nop:
		fmt.Fprintf(out, "NOP\n")
	case SyncPipe:
		fmt.Fprintf(out, "SYNC_PIPE\n")
	case SyncTile:
		fmt.Fprintf(out, "SYNC_TILE\n")
	case SyncFull:
		fmt.Fprintf(out, "SYNC_FULL\n")
	case SyncLoad:
		fmt.Fprintf(out, "SYNC_LOAD\n")
	case SetKeyGB:
		fmt.Fprintf(out, "SET_KEY_GB       WidthG=%d CenterG=%d ScaleG=%d, WidthB=%d CenterB=%d ScaleB=%d\n",
			Bits(w, 44, 55), Bits(w, 24, 31), Bits(w, 16, 23), Bits(w, 32, 43), Bits(w, 8, 15), Bits(w, 0, 7))
	case SetKeyR:
		fmt.Fprintf(out, "SET_KEY_R        WidthR=%d CenterR=%d ScaleR=%d\n",
			Bits(w, 16, 27), Bits(w, 8, 15), Bits(w, 0, 7))
	case SetConvert:
		fmt.Fprintf(out, "SET_CONVERT      k0=%d k1=%d k2=%d k3=%d k4=%d k5=%d\n",
			Bits(w, 45, 53), Bits(w, 36, 44), Bits(w, 27, 35), Bits(w, 18, 26), Bits(w, 9, 17), Bits(w, 0, 8))
	case SetScissor:
		fmt.Fprintf(out, "SET_SCISSOR      xy=(%.2f,%.2f)-(%.2f,%.2f)",
			FromFixed(Bits(w, 32, 43), 2), FromFixed(Bits(w, 44, 55), 2),
			FromFixed(Bits(w, 12, 23), 2), FromFixed(Bits(w, 0, 11), 2))
		if Bit(w, 25) {
			if Bit(w, 24) {
				fmt.Fprintf(out, " field=odd")
			} else {
				fmt.Fprintf(out, " field=even")
			}
		}
		fmt.Fprintf(out, "\n")
	case FillRect:
		fmt.Fprintf(out, "FILL_RECT        xy=(%.2f,%.2f)-(%.2f,%.2f)\n",
			FromFixed(Bits(w, 12, 23), 2), FromFixed(Bits(w, 0, 11), 2),
			FromFixed(Bits(w, 44, 55), 2), FromFixed(Bits(w, 32, 43), 2))
	case SetPrimDepth:
		fmt.Fprintf(out, "SET_PRIM_DEPTH   z=0x%x deltaz=0x%x\n", Bits(w, 16, 31), Bits(w, 0, 15))
	case SetFillColor:
		fmt.Fprintf(out, "SET_FILL_COLOR   rgba16=(%d,%d,%d,%d) rgba32=(%d,%d,%d,%d)\n",
			Bits(w, 11, 15), Bits(w, 6, 10), Bits(w, 1, 5), Bits(w, 0, 0),
			Bits(w, 24, 31), Bits(w, 16, 23), Bits(w, 8, 15), Bits(w, 0, 7))
	case SetFogColor:
		fmt.Fprintf(out, "SET_FOG_COLOR    rgba32=(%d,%d,%d,%d)\n",
			Bits(w, 24, 31), Bits(w, 16, 23), Bits(w, 8, 15), Bits(w, 0, 7))
	case SetBlendColor:
		fmt.Fprintf(out, "SET_BLEND_COLOR  rgba32=(%d,%d,%d,%d)\n",
			Bits(w, 24, 31), Bits(w, 16, 23), Bits(w, 8, 15), Bits(w, 0, 7))
	case SetPrimColor:
		fmt.Fprintf(out, "SET_PRIM_COLOR   rgba32=(%d,%d,%d,%d)\n",
			Bits(w, 24, 31), Bits(w, 16, 23), Bits(w, 8, 15), Bits(w, 0, 7))
	case SetEnvColor:
		fmt.Fprintf(out, "SET_ENV_COLOR    rgba32=(%d,%d,%d,%d)\n",
			Bits(w, 24, 31), Bits(w, 16, 23), Bits(w, 8, 15), Bits(w, 0, 7))
	case SetOtherModes:
		fmt.Fprintf(out, "SET_OTHER_MODES  %v\n", DecodeOtherModes(w))
	case SetCombine:
		fmt.Fprintf(out, "SET_COMBINE_MODE %v\n", DecodeCombiner(w))
	case SetTile:
		f := Bits(w, 53, 55)
		fmt.Fprintf(out, "SET_TILE         tile=%d %s%s tmem[0x%x,line=%d]",
			Bits(w, 24, 26), fmtNames[f], sizeNames[Bits(w, 51, 52)],
			Bits(w, 32, 40)*8, Bits(w, 41, 49)*8)
		if f == 2 {
			fmt.Fprintf(out, " pal=%d", Bits(w, 20, 23))
		}
		fmt.Fprintf(out, "\n")
	case TexRect, TexRectFlip:
		if op == TexRect {
			fmt.Fprintf(out, "TEX_RECT         ")
		} else {
			fmt.Fprintf(out, "TEX_RECT_FLIP    ")
		}
		fmt.Fprintf(out, "tile=%d xy=(%.2f,%.2f)-(%.2f,%.2f)\n", Bits(w, 24, 26),
			FromFixed(Bits(w, 12, 23), 2), FromFixed(Bits(w, 0, 11), 2),
			FromFixed(Bits(w, 44, 55), 2), FromFixed(Bits(w, 32, 43), 2))
		word(1, "st=(%.2f,%.2f) dst=(%.5f,%.5f)\n",
			FromFixedS(SBits(buf[1], 48, 63), 5), FromFixedS(SBits(buf[1], 32, 47), 5),
			FromFixedS(SBits(buf[1], 16, 31), 10), FromFixedS(SBits(buf[1], 0, 15), 10))
	case SetTileSize, LoadTile:
		if op == SetTileSize {
			fmt.Fprintf(out, "SET_TILE_SIZE    ")
		} else {
			fmt.Fprintf(out, "LOAD_TILE        ")
		}
		fmt.Fprintf(out, "tile=%d st=(%.2f,%.2f)-(%.2f,%.2f)\n",
			Bits(w, 24, 26),
			FromFixed(Bits(w, 44, 55), 2), FromFixed(Bits(w, 32, 43), 2),
			FromFixed(Bits(w, 12, 23), 2), FromFixed(Bits(w, 0, 11), 2))
	case LoadTLUT:
		fmt.Fprintf(out, "LOAD_TLUT        tile=%d palidx=(%d-%d)\n",
			Bits(w, 24, 26), Bits(w, 46, 55), Bits(w, 14, 23))
	case LoadBlock:
		fmt.Fprintf(out, "LOAD_BLOCK       tile=%d st=(%d,%d) n=%d dxt=%.5f\n",
			Bits(w, 24, 26), Bits(w, 44, 55), Bits(w, 32, 43),
			Bits(w, 12, 23)+1, FromFixed(Bits(w, 0, 11), 11))
	case SetZImage:
		fmt.Fprintf(out, "SET_Z_IMAGE      dram=%08x\n", Bits(w, 0, 25))
	case SetTexImage:
		fmt.Fprintf(out, "SET_TEX_IMAGE    dram=%08x w=%d %s%s\n",
			Bits(w, 0, 25), Bits(w, 32, 41)+1, fmtNames[Bits(w, 53, 55)], sizeNames[Bits(w, 51, 52)])
	case SetColorImage:
		fmt.Fprintf(out, "SET_COLOR_IMAGE  dram=%08x w=%d %s%s\n",
			Bits(w, 0, 25), Bits(w, 32, 41)+1, fmtNames[Bits(w, 53, 55)], sizeNames[Bits(w, 51, 52)])
	case Debug:
		switch Bits(w, 48, 55) {
		case DebugShowLog:
			fmt.Fprintf(out, "RDPQ_SHOWLOG     show=%d\n", Bits(w, 0, 0))
		case DebugMessage:
			if d.Message != nil {
				fmt.Fprintf(out, "RDPQ_MESSAGE     %s\n", d.Message(Bits(w, 0, 24)))
			} else {
				fmt.Fprintf(out, "RDPQ_MESSAGE     dram=%08x\n", Bits(w, 0, 24))
			}
		default:
			fmt.Fprintf(out, "RDPQ_DEBUG       <unknown>\n")
		}
	case Tri, TriZ, TriTex, TriTexZ, TriShade, TriShadeZ, TriTexShade, TriTexShadeZ:
		dir := "right"
		if Bit(w, 55) {
			dir = "left"
		}
		fmt.Fprintf(out, "%-17s%s tile=%d lvl=%d y=(%.2f, %.2f, %.2f)\n",
			op, dir, Bits(w, 48, 50), Bits(w, 51, 53)+1,
			FromFixedS(SBits(w, 32, 45), 2), FromFixedS(SBits(w, 16, 29), 2), FromFixedS(SBits(w, 0, 13), 2))
		word(1, "xl=%.4f dxld=%.4f\n", FromFixedS(SBits(buf[1], 32, 63), 16), FromFixedS(SBits(buf[1], 0, 31), 16))
		word(2, "xh=%.4f dxhd=%.4f\n", FromFixedS(SBits(buf[2], 32, 63), 16), FromFixedS(SBits(buf[2], 0, 31), 16))
		word(3, "xm=%.4f dxmd=%.4f\n", FromFixedS(SBits(buf[3], 32, 63), 16), FromFixedS(SBits(buf[3], 0, 31), 16))
		i := 4

		// Shade and texture coefficients split each 16.16 value between
		// an integer word and a fraction word two rows below.
		quad := func(label [4]string) {
			fmt.Fprintf(out, "[%08x] %016x                     %s=%.5f %s=%.5f %s=%.5f %s=%.5f\n",
				addr+uint32(i)*8, buf[i],
				label[0], FromFixed32(Bits(buf[i], 48, 63), Bits(buf[i+2], 48, 63)),
				label[1], FromFixed32(Bits(buf[i], 32, 47), Bits(buf[i+2], 32, 47)),
				label[2], FromFixed32(Bits(buf[i], 16, 31), Bits(buf[i+2], 16, 31)),
				label[3], FromFixed32(Bits(buf[i], 0, 15), Bits(buf[i+2], 0, 15)))
			i++
		}
		triple := func(label [3]string) {
			fmt.Fprintf(out, "[%08x] %016x                     %s=%.5f %s=%.5f %s=%.5f\n",
				addr+uint32(i)*8, buf[i],
				label[0], FromFixed32(Bits(buf[i], 48, 63), Bits(buf[i+2], 48, 63)),
				label[1], FromFixed32(Bits(buf[i], 32, 47), Bits(buf[i+2], 32, 47)),
				label[2], FromFixed32(Bits(buf[i], 16, 31), Bits(buf[i+2], 16, 31)))
			i++
		}
		blank := func() {
			word(i, "\n")
			i++
		}

		if op.HasShade() {
			quad([4]string{"r", "g", "b", "a"})
			quad([4]string{"drdx", "dgdx", "dbdx", "dadx"})
			blank()
			blank()
			quad([4]string{"drde", "dgde", "dbde", "dade"})
			quad([4]string{"drdy", "dgdy", "dbdy", "dady"})
			blank()
			blank()
		}
		if op.HasTexture() {
			triple([3]string{"s", "t", "w"})
			triple([3]string{"dsdx", "dtdx", "dwdx"})
			blank()
			blank()
			triple([3]string{"dsde", "dtde", "dwde"})
			triple([3]string{"dsdy", "dtdy", "dwdy"})
			blank()
			blank()
		}
		if op.HasDepth() {
			word(i, "z=%.5f dzdx=%.5f\n",
				FromFixed32(Bits(buf[i], 48, 63), Bits(buf[i], 32, 47)),
				FromFixed32(Bits(buf[i], 16, 31), Bits(buf[i], 0, 15)))
			i++
			word(i, "dzde=%.5f dzdy=%.5f\n",
				FromFixed32(Bits(buf[i], 48, 63), Bits(buf[i], 32, 47)),
				FromFixed32(Bits(buf[i], 16, 31), Bits(buf[i], 0, 15)))
			i++
		}
	}
}
