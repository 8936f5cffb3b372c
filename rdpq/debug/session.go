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

// Package debug traces and validates the command stream a driver queue
// hands to the rasterizer. A session hooks the device's fetch path,
// buffers the fetched ranges, and replays them through a shadow state
// validator that reports sync hazards and illegal mode combinations.
// The trace can also be disassembled live, gated by commands embedded
// in the stream itself.
package debug

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/polypoyo/libdragon/core/log"
	"github.com/polypoyo/libdragon/rdp"
	"github.com/polypoyo/libdragon/rdp/device"
	"github.com/polypoyo/libdragon/rdp/rdram"
	"github.com/polypoyo/libdragon/rdpq"
)

// ringCap bounds the pending fetched ranges. Older ranges are dropped
// unvalidated when the producer outruns Process.
const ringCap = 12

// Config carries the collaborators of a Session. Queue, Memory and
// Device are required; Arena only serves Message text storage.
type Config struct {
	Queue  *rdpq.Queue
	Memory *rdram.Memory
	Device *device.Device
	Arena  *rdram.Allocator
}

// span is one pending fetched range. traced marks how far validation
// already walked it; a buffer that grows after being traced is only
// re-walked from there.
type span struct {
	start, end uint32
	traced     uint32
}

// Session is an attached trace session.
//
// The fetch hook runs on the queue's consumer goroutine and only
// records ranges; all validation and logging happens in Process, on
// the caller's goroutine.
type Session struct {
	ctx context.Context
	cfg Config
	val *Validator
	dis rdp.Disassembler

	mu      sync.Mutex
	ring    []span
	done    span   // last fully traced range, for resumed growth
	dropped uint32 // words lost to ring overflow

	showLog int
}

// Attach hooks a trace session onto the device feeding the given
// queue. Detach unhooks it.
func Attach(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Queue == nil || cfg.Memory == nil || cfg.Device == nil {
		return nil, errors.New("tracing needs a queue, a memory and a device")
	}
	s := &Session{ctx: ctx, cfg: cfg}
	s.val = &Validator{Report: func(d Diagnostic) {
		if d.Error {
			log.E(ctx, "[%08x] %s", d.Addr, d.Message)
		} else {
			log.W(ctx, "[%08x] %s", d.Addr, d.Message)
		}
	}}
	s.dis.Message = s.message
	cfg.Device.OnFetch(s.fetched)
	return s, nil
}

// Detach validates what is still pending and unhooks the session.
func (s *Session) Detach() {
	s.cfg.Device.OnFetch(nil)
	s.Process()
	s.val.Flush()
}

// Errors returns the number of stream errors reported so far.
func (s *Session) Errors() int { return s.val.Errors }

// Warnings returns the number of warnings reported so far.
func (s *Session) Warnings() int { return s.val.Warnings }

// Dropped returns the number of command words lost to ring overflow.
func (s *Session) Dropped() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// fetched records one fetched range. Consecutive fetches of a growing
// buffer arrive with the same start; the range is coalesced, and only
// the words appended since the last trace of it are walked again.
func (s *Session) fetched(start, end uint32) {
	if start == end {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.ring); n > 0 && s.ring[n-1].start == start {
		last := &s.ring[n-1]
		switch {
		case end == last.end:
		case end < last.end:
			s.val.errorf(start, 0, "fetched buffer shrank from 0x%x to 0x%x", last.end, end)
		default:
			last.end = end
		}
		return
	}
	if s.done.start == start && s.done.end != s.done.start {
		switch {
		case end == s.done.end:
			return
		case end > s.done.end:
			s.push(span{start: start, end: end, traced: s.done.end})
			return
		}
		// A smaller range at a fully traced start is a fresh buffer
		// reusing the address, not a shrink.
	}
	s.push(span{start: start, end: end, traced: start})
}

// push appends a pending range, dropping the oldest when full.
func (s *Session) push(e span) {
	if len(s.ring) == ringCap {
		old := s.ring[0]
		s.ring = s.ring[1:]
		s.dropped += (old.end - old.traced) / 8
		s.val.warnf(old.start, 0,
			"trace ring full, buffer [0x%x,0x%x) dropped unvalidated", old.start, old.end)
	}
	s.ring = append(s.ring, e)
}

// Process drains the pending ranges through the validator. Call it
// with the queue idle; it reads command memory the rasterizer wrote
// into while running.
func (s *Session) Process() {
	for {
		s.mu.Lock()
		if len(s.ring) == 0 {
			s.mu.Unlock()
			return
		}
		e := s.ring[0]
		s.ring = s.ring[1:]
		s.done = span{start: e.start, end: e.end, traced: e.end}
		s.mu.Unlock()
		for addr := e.traced; addr < e.end; {
			w := s.cfg.Memory.Uint64(addr)
			n := uint32(rdp.OpcodeOf(w).Words())
			if addr+n*8 > e.end {
				s.val.errorf(addr, 0, "truncated %v at end of fetched buffer", rdp.OpcodeOf(w))
				break
			}
			s.command(addr, s.cfg.Memory.Words(addr, int(n)))
			addr += n * 8
		}
	}
}

func (s *Session) command(addr uint32, buf []uint64) {
	w := buf[0]
	if rdp.OpcodeOf(w) == rdp.Debug {
		if rdp.Bits(w, 48, 55) == rdp.DebugShowLog {
			if rdp.Bits(w, 0, 0) != 0 {
				s.showLog++
			} else if s.showLog > 0 {
				s.showLog--
			}
		}
	} else {
		s.val.Command(addr, buf)
	}
	if s.showLog > 0 {
		b := &strings.Builder{}
		s.dis.Command(b, addr, buf)
		log.I(s.ctx, "%s", strings.TrimSuffix(b.String(), "\n"))
	}
}

// Log emits a command toggling live disassembly of the stream from
// this point on. Enables nest.
func (s *Session) Log(enable bool) {
	bit := uint64(0)
	if enable {
		bit = 1
	}
	s.cfg.Queue.Raw(uint64(rdp.Debug)<<56 | uint64(rdp.DebugShowLog)<<48 | bit)
}

// Message interleaves a marker with the stream, shown when the trace
// is disassembled. The text is stored in the arena for the session's
// lifetime.
func (s *Session) Message(text string) {
	if s.cfg.Arena == nil {
		log.W(s.ctx, "no arena for trace messages, %q dropped", text)
		return
	}
	n := uint32(len(text)) + 1
	addr := s.cfg.Arena.Alloc(n, 8)
	b := s.cfg.Memory.Bytes(addr, n)
	copy(b, text)
	b[len(text)] = 0
	s.cfg.Queue.Raw(uint64(rdp.Debug)<<56 | uint64(rdp.DebugMessage)<<48 | uint64(addr&0x1FFFFFF))
}

// message resolves debug message text for the disassembler.
func (s *Session) message(addr uint32) string {
	b := []byte{}
	for len(b) < 256 {
		c := s.cfg.Memory.Bytes(addr+uint32(len(b)), 1)[0]
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b)
}
