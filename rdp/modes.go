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
	"fmt"
	"strings"
)

// Cycle types of the pipeline, stored in bits 52-53 of SET_OTHER_MODES.
const (
	CycleOne  = 0
	CycleTwo  = 1
	CycleCopy = 2
	CycleFill = 3
)

// BlendCycle is one cycle of the blender formula (p*a + q*b), with each
// field holding the 2-bit mux selector for the corresponding input.
type BlendCycle struct {
	P, A, Q, B uint8
}

// OtherModes is the unpacked form of the SET_OTHER_MODES word.
type OtherModes struct {
	Atomic    bool
	CycleType uint8

	TexPersp   bool
	TexDetail  bool
	TexSharpen bool
	TexLOD     bool

	TLUT     bool
	TLUTType uint8

	SampleType uint8
	TFMode     uint8
	ChromaKey  bool

	DitherRGB   uint8
	DitherAlpha uint8

	Blender [2]BlendCycle
	Blend   bool
	Read    bool
	AA      bool

	CvgMode     uint8
	CvgColor    bool
	CvgMulAlpha bool
	CvgSelAlpha bool

	ZMode    uint8
	ZUpdate  bool
	ZCompare bool
	ZPrim    bool

	AlphaCompare bool
	AlphaDither  bool

	// Queue extension bits. These live in unused parts of the word and
	// are only meaningful to the queue engine, never to the rasterizer.
	Fog    bool
	Freeze bool
	BL2    bool
}

// DecodeOtherModes unpacks a SET_OTHER_MODES command word.
func DecodeOtherModes(w uint64) OtherModes {
	return OtherModes{
		Atomic:     Bit(w, 55),
		CycleType:  uint8(Bits(w, 52, 53)),
		TexPersp:   Bit(w, 51),
		TexDetail:  Bit(w, 50),
		TexSharpen: Bit(w, 49),
		TexLOD:     Bit(w, 48),

		TLUT:     Bit(w, 47),
		TLUTType: uint8(Bits(w, 46, 46)),

		SampleType: uint8(Bits(w, 44, 45)),
		TFMode:     uint8(Bits(w, 41, 43)),
		ChromaKey:  Bit(w, 40),

		DitherRGB:   uint8(Bits(w, 38, 39)),
		DitherAlpha: uint8(Bits(w, 36, 37)),

		Blender: [2]BlendCycle{
			{P: uint8(Bits(w, 30, 31)), A: uint8(Bits(w, 26, 27)), Q: uint8(Bits(w, 22, 23)), B: uint8(Bits(w, 18, 19))},
			{P: uint8(Bits(w, 28, 29)), A: uint8(Bits(w, 24, 25)), Q: uint8(Bits(w, 20, 21)), B: uint8(Bits(w, 16, 17))},
		},
		Blend: Bit(w, 14),
		Read:  Bit(w, 6),
		AA:    Bit(w, 3),

		CvgMode:     uint8(Bits(w, 8, 9)),
		CvgColor:    Bit(w, 7),
		CvgMulAlpha: Bit(w, 12),
		CvgSelAlpha: Bit(w, 13),

		ZMode:    uint8(Bits(w, 10, 11)),
		ZUpdate:  Bit(w, 5),
		ZCompare: Bit(w, 4),
		ZPrim:    Bit(w, 2),

		AlphaCompare: Bit(w, 0),
		AlphaDither:  Bit(w, 1),

		Fog:    Bit(w, 32),
		Freeze: Bit(w, 33),
		BL2:    Bit(w, 15),
	}
}

// BlenderConfigured returns true if any blender mux selector is non-zero.
func (m OtherModes) BlenderConfigured() bool {
	return m.Blender[0] != (BlendCycle{}) || m.Blender[1] != (BlendCycle{})
}

var (
	cycleNames       = [4]string{"1cyc", "2cyc", "copy", "fill"}
	texInterpNames   = [4]string{"point", "point", "bilinear", "median"}
	yuv1Names        = [2]string{"yuv1", "yuv1_tex0"}
	zModeNames       = [4]string{"opaque", "inter", "trans", "decal"}
	rgbDitherNames   = [4]string{"square", "bayer", "noise", "none"}
	alphaDitherNames = [4]string{"pat", "inv", "noise", "none"}
	cvgModeNames     = [4]string{"clamp", "wrap", "zap", "save"}

	blend1PNames   = [4]string{"in", "mem", "blend", "fog"}
	blend2PNames   = [4]string{"cyc1", "mem", "blend", "fog"}
	blendANames    = [4]string{"in.a", "fog.a", "shade.a", "0"}
	blendAInvNames = [4]string{"(1-in.a)", "(1-fog.a)", "(1-shade.a)", "1"}
	blendBNames    = [4]string{"", "mem.a", "1", "0"}
)

// flagList emits space separated flag names into a builder.
type flagList struct {
	b      *strings.Builder
	prefix string
}

func (f *flagList) reset() { f.prefix = "" }

func (f *flagList) put(on bool, s string) {
	if on {
		f.b.WriteString(f.prefix)
		f.b.WriteString(s)
		f.prefix = " "
	}
}

// blendFactorB renders the second factor of a blender cycle. A zero
// selector means the inverse of the first factor's alpha.
func blendFactorB(c BlendCycle) string {
	if c.B != 0 {
		return blendBNames[c.B]
	}
	return blendAInvNames[c.A]
}

// String renders the mode word in symbolic form, with quiescent state
// omitted so that only the interesting configuration shows up.
func (m OtherModes) String() string {
	b := &strings.Builder{}
	f := flagList{b: b}

	b.WriteString(cycleNames[m.CycleType])
	if m.CycleType < CycleCopy &&
		(m.TexPersp || m.TexDetail || m.TexSharpen || m.TexLOD || m.SampleType != 0 || m.TFMode != 6) {
		b.WriteString(" tex=[")
		f.reset()
		f.put(m.TexPersp, "persp")
		f.put(m.TexDetail, "detail")
		f.put(m.TexSharpen, "sharpen")
		f.put(m.TexLOD, "lod")
		f.put(m.TFMode&4 == 0, "yuv0")
		f.put(m.TFMode&2 == 0, yuv1Names[m.TFMode&1])
		f.put(m.SampleType != 0, texInterpNames[m.SampleType])
		b.WriteString("]")
	}
	if m.TLUT {
		if m.TLUTType != 0 {
			b.WriteString(" tlut=[ia]")
		} else {
			b.WriteString(" tlut")
		}
	}
	if m.BlenderConfigured() {
		b0 := m.Blender[0]
		if b0 == (BlendCycle{}) {
			b.WriteString(" blend=[<passthrough>, ")
		} else {
			fmt.Fprintf(b, " blend=[%s*%s + %s*%s, ",
				blend1PNames[b0.P], blendANames[b0.A], blend1PNames[b0.Q], blendFactorB(b0))
		}
		b1 := m.Blender[1]
		fmt.Fprintf(b, "%s*%s + %s*%s]",
			blend2PNames[b1.P], blendANames[b1.A], blend2PNames[b1.Q], blendFactorB(b1))
	}
	if m.ZUpdate || m.ZCompare {
		b.WriteString(" z=[")
		f.reset()
		f.put(m.ZCompare, "cmp")
		f.put(m.ZUpdate, "upd")
		f.put(m.ZPrim, "prim")
		f.put(true, zModeNames[m.ZMode])
		b.WriteString("]")
	}
	f.prefix = " "
	f.put(m.AA, "aa")
	f.put(m.Read, "read")
	f.put(m.Blend, "blend")
	f.put(m.ChromaKey, "chroma_key")
	f.put(m.Atomic, "atomic")

	if m.AlphaCompare {
		if m.AlphaDither {
			b.WriteString(" alpha_compare[dither]")
		} else {
			b.WriteString(" alpha_compare")
		}
	}
	if m.CycleType < CycleCopy && (m.DitherRGB != 3 || m.DitherAlpha != 3) {
		fmt.Fprintf(b, " dither=[%s,%s]", rgbDitherNames[m.DitherRGB], alphaDitherNames[m.DitherAlpha])
	}
	if m.CvgMode != 0 || m.CvgColor || m.CvgSelAlpha || m.CvgMulAlpha {
		b.WriteString(" cvg=[")
		f.reset()
		f.put(m.CvgMode != 0, cvgModeNames[m.CvgMode])
		f.put(m.CvgColor, "color_ovf")
		f.put(m.CvgMulAlpha, "mul_alpha")
		f.put(m.CvgSelAlpha, "sel_alpha")
		b.WriteString("]")
	}
	if m.BL2 || m.Freeze || m.Fog {
		b.WriteString(" rdpq=[")
		f.reset()
		f.put(m.BL2, "bl2")
		f.put(m.Freeze, "freeze")
		f.put(m.Fog, "fog")
		b.WriteString("]")
	}
	return b.String()
}
