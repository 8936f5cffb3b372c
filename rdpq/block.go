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

import "github.com/polypoyo/libdragon/rspq"

const (
	// maxCommandWords is the size of the largest single command, in
	// 64-bit words. Buffer switches happen while at least this much
	// space remains, so a command never straddles two buffers.
	maxCommandWords = 22
	// blockMinWords and blockMaxWords bound the buffer chain growth:
	// each buffer doubles the previous one's size up to the cap.
	blockMinWords = 32
	blockMaxWords = 2096
)

type blockBuf struct {
	addr  uint32
	words uint32
}

// Block is a recorded, replayable command list: a chain of buffers
// holding the static command words, the coprocessor records that submit
// them (interleaved with fixup commands), and the resource-busy snapshot
// taken when recording ended.
type Block struct {
	q       *Queue
	records []uint32
	bufs    []blockBuf

	cur, bufEnd uint32 // cursor within the current buffer, bytes
	rangeStart  uint32 // start of the unsubmitted static range
	lastSubmit  int    // records index of the last submit header, -1 if none
	nextWords   uint32

	autosync uint32
	freed    bool
}

// BeginBlock starts recording: until EndBlock, every emitted command is
// captured instead of executed. The resource-busy state is saved and
// replaced by all-busy, so the block conservatively syncs before the
// first use of any resource and stays safe to replay from any context.
// Nested recording is a programmer error and panics.
func (q *Queue) BeginBlock() {
	if q.block != nil {
		panic("block recording is already active")
	}
	q.sync.stack = append(q.sync.stack, q.sync.mask)
	q.sync.mask = syncAllBusy
	q.block = &Block{q: q, lastSubmit: -1, nextWords: blockMinWords}
	q.sink = blockSink{b: q.block}
}

// EndBlock stops recording and returns the block. The busy state the
// block's commands imply is snapshotted into it; the state saved at
// BeginBlock becomes current again.
func (q *Queue) EndBlock() *Block {
	b := q.block
	if b == nil {
		panic("no block recording is active")
	}
	b.flush()
	b.autosync = q.sync.mask
	q.sync.mask = q.sync.stack[len(q.sync.stack)-1]
	q.sync.stack = q.sync.stack[:len(q.sync.stack)-1]
	q.block = nil
	q.sink = q.stream
	return b
}

// RunBlock replays the block. Its recorded busy snapshot becomes the
// current resource state, so hazard detection after the call behaves as
// if the commands had just been emitted inline. Calling a block while
// recording another splices it into the recording.
func (q *Queue) RunBlock(b *Block) {
	if b.q != q {
		panic("block belongs to another queue")
	}
	if b.freed {
		panic("block has been freed")
	}
	if cur := q.block; cur != nil {
		if cur == b {
			panic("block cannot run inside its own recording")
		}
		cur.flush()
		cur.records = append(cur.records, b.records...)
		cur.lastSubmit = -1
		cur.rangeStart = cur.cur
	} else {
		q.rsp.Append(b.records)
	}
	q.sync.mask = b.autosync
}

// Free releases the block. The queue's arena does not reclaim storage,
// so this only invalidates the block; running it afterwards panics.
func (b *Block) Free() {
	b.freed = true
}

// ensure makes room for a command of n words, switching to a fresh,
// larger buffer when the current one cannot hold it.
func (b *Block) ensure(n int) {
	if n > maxCommandWords {
		panic("command exceeds the maximum command size")
	}
	if b.cur+uint32(n)*8 <= b.bufEnd {
		return
	}
	b.flush()
	words := b.nextWords
	b.nextWords *= 2
	if b.nextWords > blockMaxWords {
		b.nextWords = blockMaxWords
	}
	addr := b.q.arena.Alloc(words*8, 8)
	b.bufs = append(b.bufs, blockBuf{addr: addr, words: words})
	b.cur = addr
	b.bufEnd = addr + words*8
	b.rangeStart = addr
}

// flush records a submit for the pending static range, coalescing with
// the previous submit when the ranges are contiguous.
func (b *Block) flush() {
	if b.rangeStart == b.cur {
		return
	}
	if b.lastSubmit >= 0 && b.records[b.lastSubmit]&0xFFFFFF == b.rangeStart&0xFFFFFF {
		b.records[b.lastSubmit] = b.records[b.lastSubmit]&0xFF000000 | b.cur&0xFFFFFF
	} else {
		b.lastSubmit = len(b.records)
		rec := rspq.EncodeRDP(b.rangeStart, b.cur)
		b.records = append(b.records, rec[0], rec[1])
	}
	b.rangeStart = b.cur
}
