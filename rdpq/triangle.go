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
	"math"

	"github.com/polypoyo/libdragon/rdp"
)

// TriangleFormat describes the vertex layout handed to Triangle: the
// index of each attribute group within a vertex slice, with -1 marking
// an absent group. Position is two floats (x, y in pixels); shade is
// four floats (r, g, b, a in [0,1]); texture is three floats (s, t in
// texels and inverse-w); depth is one float in depth buffer units.
type TriangleFormat struct {
	PosOffset   int
	ShadeOffset int
	TexOffset   int
	ZOffset     int
	Tile        uint8
	Levels      uint8 // mipmap levels of the tile, 0 behaves as 1
}

// Common vertex layouts.
var (
	TriFmtFill      = TriangleFormat{PosOffset: 0, ShadeOffset: -1, TexOffset: -1, ZOffset: -1}
	TriFmtFillZ     = TriangleFormat{PosOffset: 0, ShadeOffset: -1, TexOffset: -1, ZOffset: 2}
	TriFmtShade     = TriangleFormat{PosOffset: 0, ShadeOffset: 2, TexOffset: -1, ZOffset: -1}
	TriFmtShadeZ    = TriangleFormat{PosOffset: 0, ShadeOffset: 3, TexOffset: -1, ZOffset: 2}
	TriFmtTex       = TriangleFormat{PosOffset: 0, ShadeOffset: -1, TexOffset: 2, ZOffset: -1}
	TriFmtTexZ      = TriangleFormat{PosOffset: 0, ShadeOffset: -1, TexOffset: 3, ZOffset: 2}
	TriFmtShadeTex  = TriangleFormat{PosOffset: 0, ShadeOffset: 2, TexOffset: 6, ZOffset: -1}
	TriFmtShadeTexZ = TriangleFormat{PosOffset: 0, ShadeOffset: 3, TexOffset: 7, ZOffset: 2}
)

// Opcode returns the triangle opcode the format encodes to.
func (f TriangleFormat) Opcode() rdp.Opcode {
	op := rdp.Tri
	if f.ShadeOffset >= 0 {
		op |= 4
	}
	if f.TexOffset >= 0 {
		op |= 2
	}
	if f.ZOffset >= 0 {
		op |= 1
	}
	return op
}

// Triangle draws a triangle from three vertices in the given layout,
// computing the edge and attribute gradient coefficients the rasterizer
// walks. Vertex order does not matter; both windings are drawn.
func (q *Queue) Triangle(f TriangleFormat, v1, v2, v3 []float32) {
	if f.TexOffset >= 0 {
		q.syncUse(syncPipe | syncTile(int(f.Tile)) | syncTMEM(0))
	} else {
		q.syncUse(syncPipe)
	}
	q.sink.write(encodeTriangle(f, v1, v2, v3)...)
}

func encodeTriangle(f TriangleFormat, v1, v2, v3 []float32) []uint64 {
	vv := [3][]float32{v1, v2, v3}
	// Sort by y so vv[0] is the top vertex.
	if vv[0][f.PosOffset+1] > vv[1][f.PosOffset+1] {
		vv[0], vv[1] = vv[1], vv[0]
	}
	if vv[1][f.PosOffset+1] > vv[2][f.PosOffset+1] {
		vv[1], vv[2] = vv[2], vv[1]
	}
	if vv[0][f.PosOffset+1] > vv[1][f.PosOffset+1] {
		vv[0], vv[1] = vv[1], vv[0]
	}
	x1, y1 := vv[0][f.PosOffset], vv[0][f.PosOffset+1]
	x2, y2 := vv[1][f.PosOffset], vv[1][f.PosOffset+1]
	x3, y3 := vv[2][f.PosOffset], vv[2][f.PosOffset+1]

	slope := func(dx, dy float32) float32 {
		if dy == 0 {
			return 0
		}
		return dx / dy
	}
	dxHdy := slope(x3-x1, y3-y1) // major edge, top to bottom
	dxMdy := slope(x2-x1, y2-y1)
	dxLdy := slope(x3-x2, y3-y2)

	lft := uint64(0)
	if (x2-x1)*(y3-y1)-(x3-x1)*(y2-y1) > 0 {
		lft = 1
	}
	levels := uint64(0)
	if f.Levels > 1 {
		levels = uint64(f.Levels - 1)
	}

	yq := func(y float32) uint64 {
		v := rdp.TruncateS11_2(int32(math.Floor(float64(y) * 4)))
		return uint64(uint32(v) & 0x3FFF)
	}
	fx := func(v float32) uint64 { return uint64(uint32(rdp.FloatToFixed16(v))) }

	out := make([]uint64, 0, f.Opcode().Words())
	out = append(out,
		uint64(f.Opcode())<<56|lft<<55|levels<<51|uint64(f.Tile&7)<<48|
			yq(y3)<<32|yq(y2)<<16|yq(y1),
		fx(x2)<<32|fx(dxLdy),
		fx(x1)<<32|fx(dxHdy),
		fx(x1)<<32|fx(dxMdy))

	// Attribute gradients from the plane through the three vertices.
	denom := (x2-x1)*(y3-y1) - (x3-x1)*(y2-y1)
	grad := func(a1, a2, a3 float32) (dx, dy, de float32) {
		if denom != 0 {
			dx = ((a2-a1)*(y3-y1) - (a3-a1)*(y2-y1)) / denom
			dy = ((a3-a1)*(x2-x1) - (a2-a1)*(x3-x1)) / denom
		}
		return dx, dy, dy + dx*dxHdy
	}

	coeffs := func(attrs [][3]float32, pad int) {
		n := len(attrs) + pad
		val := make([]int32, n)
		ddx := make([]int32, n)
		ddy := make([]int32, n)
		dde := make([]int32, n)
		for i, a := range attrs {
			dx, dy, de := grad(a[0], a[1], a[2])
			val[i] = rdp.FloatToFixed16(a[0])
			ddx[i] = rdp.FloatToFixed16(dx)
			ddy[i] = rdp.FloatToFixed16(dy)
			dde[i] = rdp.FloatToFixed16(de)
		}
		hi := func(vs []int32) uint64 {
			var w uint64
			for i := 0; i < 4; i++ {
				w = w<<16 | uint64(uint32(vs[i])>>16)
			}
			return w
		}
		lo := func(vs []int32) uint64 {
			var w uint64
			for i := 0; i < 4; i++ {
				w = w<<16 | uint64(uint32(vs[i])&0xFFFF)
			}
			return w
		}
		out = append(out,
			hi(val), hi(ddx), lo(val), lo(ddx),
			hi(dde), hi(ddy), lo(dde), lo(ddy))
	}

	if o := f.ShadeOffset; o >= 0 {
		attrs := make([][3]float32, 4)
		for c := 0; c < 4; c++ {
			attrs[c] = [3]float32{
				vv[0][o+c] * 255, vv[1][o+c] * 255, vv[2][o+c] * 255,
			}
		}
		coeffs(attrs, 0)
	}
	if o := f.TexOffset; o >= 0 {
		attrs := make([][3]float32, 3)
		for c := 0; c < 3; c++ {
			attrs[c] = [3]float32{vv[0][o+c], vv[1][o+c], vv[2][o+c]}
		}
		coeffs(attrs, 1)
	}
	if o := f.ZOffset; o >= 0 {
		dx, dy, de := grad(vv[0][o], vv[1][o], vv[2][o])
		out = append(out,
			fx(vv[0][o])<<32|fx(dx),
			fx(de)<<32|fx(dy))
	}
	return out
}
