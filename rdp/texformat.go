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

import "fmt"

// TexFormat packs the color format (bits 2-4) and pixel size (bits 0-1)
// the way image and tile commands store them.
type TexFormat uint8

// MakeTexFormat builds a TexFormat from its raw format and size fields.
func MakeTexFormat(format, size uint8) TexFormat {
	return TexFormat(format<<2 | size&3)
}

const (
	RGBA16 = TexFormat(0<<2 | 2)
	RGBA32 = TexFormat(0<<2 | 3)
	YUV16  = TexFormat(1<<2 | 2)
	CI4    = TexFormat(2<<2 | 0)
	CI8    = TexFormat(2<<2 | 1)
	IA4    = TexFormat(3<<2 | 0)
	IA8    = TexFormat(3<<2 | 1)
	IA16   = TexFormat(3<<2 | 2)
	I4     = TexFormat(4<<2 | 0)
	I8     = TexFormat(4<<2 | 1)
)

// Format returns the raw color format field.
func (f TexFormat) Format() uint8 { return uint8(f) >> 2 }

// Size returns the raw pixel size field.
func (f TexFormat) Size() uint8 { return uint8(f) & 3 }

// BitsPerPixel returns the pixel width in bits.
func (f TexFormat) BitsPerPixel() uint32 { return 4 << f.Size() }

// BytesPerPixel returns the pixel width in bytes; zero for 4-bit formats.
func (f TexFormat) BytesPerPixel() uint32 { return f.BitsPerPixel() / 8 }

func (f TexFormat) String() string {
	return fmt.Sprintf("%s%d", fmtNames[f.Format()&7], f.BitsPerPixel())
}
