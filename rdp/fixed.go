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

import "math"

// FromFixed converts an unsigned fixed point value with frac fractional
// bits to a float.
func FromFixed(v uint32, frac uint) float32 {
	return float32(v) / float32(uint32(1)<<frac)
}

// FromFixedS converts a signed fixed point value with frac fractional
// bits to a float.
func FromFixedS(v int32, frac uint) float32 {
	return float32(v) / float32(uint32(1)<<frac)
}

// FromFixed32 combines the separately stored high and low 16-bit halves
// of a 16.16 fixed point value into a float.
func FromFixed32(hi, lo uint32) float32 {
	return float32(hi) + float32(lo)/65536
}

// FloatToFixed16 converts a float to s16.16 fixed point, clamping values
// outside the representable range instead of wrapping.
func FloatToFixed16(f float32) int32 {
	if f >= 32768 {
		return 0x7FFFFFFF
	}
	if f < -32768 {
		return -0x80000000
	}
	return int32(math.Floor(float64(f) * 65536))
}

// TruncateS11_2 folds a wider signed fixed point value into the s11.2
// coordinate encoding used by the edge walker.
func TruncateS11_2(x int32) int32 {
	return (x & 0x1fff) | ((x >> 18) &^ 0x1fff)
}
