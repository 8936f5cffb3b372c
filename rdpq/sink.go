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

import "github.com/polypoyo/libdragon/rdp"

// sink is the destination of encoded commands. The streaming sink
// forwards to the coprocessor queue for immediate execution; the block
// sink records into the active block's buffer chain.
//
// write delivers one complete command, all words included.
//
// fixup delivers a command whose final words depend on rasterizer state
// only known at execution time (cycle type, target bitdepth). cmd is the
// dynamic command id, rdpWords the number of 64-bit words the resolved
// command occupies, arg0 the 24-bit header argument, args the payload.
type sink interface {
	write(words ...uint64)
	fixup(cmd uint32, rdpWords int, arg0 uint32, args ...uint32)
}

type streamSink struct {
	q *Queue
}

func (s streamSink) write(words ...uint64) {
	op := uint32(rdp.OpcodeOf(words[0]))
	args := make([]uint32, 0, len(words)*2-1)
	args = append(args, uint32(words[0]))
	for _, w := range words[1:] {
		args = append(args, uint32(w>>32), uint32(w))
	}
	s.q.rsp.Write(overlayBase|op, uint32(words[0]>>32)&0xFFFFFF, args...)
}

func (s streamSink) fixup(cmd uint32, rdpWords int, arg0 uint32, args ...uint32) {
	s.q.rsp.Write(overlayBase|cmd, arg0, args...)
}

type blockSink struct {
	b *Block
}

func (s blockSink) write(words ...uint64) {
	b := s.b
	b.ensure(len(words))
	for _, w := range words {
		b.q.mem.SetUint64(b.cur, w)
		b.cur += 8
	}
}

// fixup records the dynamic fixup command alongside a placeholder in the
// buffer chain. The placeholder is filled with NOPs and excluded from
// the static submission ranges; the fixup executor resolves the final
// words into it and submits them in stream order.
func (s blockSink) fixup(cmd uint32, rdpWords int, arg0 uint32, args ...uint32) {
	b := s.b
	b.ensure(rdpWords)
	b.flush()
	rec := make([]uint32, 0, 2+len(args))
	rec = append(rec, (overlayBase|(cmd+1))<<24|b.cur&0xFFFFFF, arg0)
	rec = append(rec, args...)
	b.records = append(b.records, rec...)
	b.lastSubmit = -1
	for i := 0; i < rdpWords; i++ {
		b.q.mem.SetUint64(b.cur, 0)
		b.cur += 8
	}
	b.rangeStart = b.cur
}
