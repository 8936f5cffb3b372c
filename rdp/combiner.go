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

// Combiner input slots. The multiplier input has a wider mux than the
// other three, so the slots past SlotEnv are only valid there.
const (
	SlotCombined      = 0
	SlotTex0          = 1
	SlotTex1          = 2
	SlotPrim          = 3
	SlotShade         = 4
	SlotEnv           = 5
	SlotCombinedAlpha = 7
	SlotTex0Alpha     = 8
	SlotTex1Alpha     = 9
	SlotShadeAlpha    = 11
)

// CombinerInputs holds the four mux selectors of one combiner formula,
// computing (SubA - SubB) * Mul + Add.
type CombinerInputs struct {
	SubA, SubB, Mul, Add uint8
}

// CombinerCycle is the RGB and alpha formulas of one combiner cycle.
type CombinerCycle struct {
	RGB, Alpha CombinerInputs
}

// Slots returns the eight mux selectors of the cycle in a fixed order,
// for slot usage scans.
func (c CombinerCycle) Slots() [8]uint8 {
	return [8]uint8{
		c.RGB.SubA, c.RGB.SubB, c.RGB.Mul, c.RGB.Add,
		c.Alpha.SubA, c.Alpha.SubB, c.Alpha.Mul, c.Alpha.Add,
	}
}

// Combiner is the unpacked form of the SET_COMBINE_MODE word.
type Combiner struct {
	Cyc [2]CombinerCycle
}

// DecodeCombiner unpacks a SET_COMBINE_MODE command word.
func DecodeCombiner(w uint64) Combiner {
	return Combiner{
		Cyc: [2]CombinerCycle{{
			RGB:   CombinerInputs{uint8(Bits(w, 52, 55)), uint8(Bits(w, 28, 31)), uint8(Bits(w, 47, 51)), uint8(Bits(w, 15, 17))},
			Alpha: CombinerInputs{uint8(Bits(w, 44, 46)), uint8(Bits(w, 12, 14)), uint8(Bits(w, 41, 43)), uint8(Bits(w, 9, 11))},
		}, {
			RGB:   CombinerInputs{uint8(Bits(w, 37, 40)), uint8(Bits(w, 24, 27)), uint8(Bits(w, 32, 36)), uint8(Bits(w, 6, 8))},
			Alpha: CombinerInputs{uint8(Bits(w, 21, 23)), uint8(Bits(w, 3, 5)), uint8(Bits(w, 18, 20)), uint8(Bits(w, 0, 2))},
		}},
	}
}

var (
	rgbSubANames = [16]string{"comb", "tex0", "tex1", "prim", "shade", "env", "1", "noise",
		"0", "0", "0", "0", "0", "0", "0", "0"}
	rgbSubBNames = [16]string{"comb", "tex0", "tex1", "prim", "shade", "env", "keycenter", "k4",
		"0", "0", "0", "0", "0", "0", "0", "0"}
	rgbMulNames = [32]string{"comb", "tex0", "tex1", "prim", "shade", "env", "keyscale", "comb.a",
		"tex0.a", "tex1.a", "prim.a", "shade.a", "env.a", "lod_frac", "prim_lod_frac", "k5",
		"0", "0", "0", "0", "0", "0", "0", "0", "0", "0", "0", "0", "0", "0", "0", "0"}
	rgbAddNames     = [8]string{"comb", "tex0", "tex1", "prim", "shade", "env", "1", "0"}
	alphaSlotNames  = [8]string{"comb", "tex0", "tex1", "prim", "shade", "env", "1", "0"}
	alphaMulNames   = [8]string{"lod_frac", "tex0", "tex1", "prim", "shade", "env", "prim_lod_frac", "0"}
)

func (c CombinerCycle) format(b *strings.Builder) {
	fmt.Fprintf(b, "[(%s-%s)*%s+%s, (%s-%s)*%s+%s]",
		rgbSubANames[c.RGB.SubA], rgbSubBNames[c.RGB.SubB], rgbMulNames[c.RGB.Mul], rgbAddNames[c.RGB.Add],
		alphaSlotNames[c.Alpha.SubA], alphaSlotNames[c.Alpha.SubB], alphaMulNames[c.Alpha.Mul], alphaSlotNames[c.Alpha.Add])
}

// String renders both combiner cycles in symbolic form. A second cycle
// with all mux selectors at zero passes the first cycle through, and is
// rendered as such.
func (c Combiner) String() string {
	b := &strings.Builder{}
	b.WriteString("cyc0=")
	c.Cyc[0].format(b)
	b.WriteString(", cyc1=")
	if c.Cyc[1] == (CombinerCycle{}) {
		b.WriteString("[<passthrough>]")
	} else {
		c.Cyc[1].format(b)
	}
	return b.String()
}
