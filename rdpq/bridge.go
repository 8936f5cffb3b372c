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
	"github.com/polypoyo/libdragon/core/event/task"
	"github.com/polypoyo/libdragon/core/log"
	"github.com/polypoyo/libdragon/rdp"
)

// completion is one registered SYNC_FULL callback. The token travels in
// the command word; the callback stays on this side of the queue.
type completion struct {
	cb    func(arg uint32)
	once  bool
	fired bool
}

// SyncFull emits a full pipeline sync carrying a completion token. When
// the rasterizer retires it, cb is invoked with arg from the interrupt
// dispatch goroutine; it must not block. A nil cb just syncs.
//
// Inside a block the token is recorded with the command, so every
// replay of the block invokes cb again.
//
// After the command executes the rasterizer is provably idle, so all
// busy state is cleared.
func (q *Queue) SyncFull(cb func(arg uint32), arg uint32) {
	token := uint32(0)
	if cb != nil {
		token = q.register(cb, false)
	}
	q.emitSyncFull(token, arg)
}

// SyncFullSignal emits a full pipeline sync and returns a signal fired
// on its completion. The registration is one-shot: if the command is
// replayed from a block, later completions are dropped with a warning.
func (q *Queue) SyncFullSignal() task.Signal {
	signal, fire := task.NewSignal()
	token := q.register(func(uint32) { fire(q.ctx) }, true)
	q.emitSyncFull(token, 0)
	return signal
}

// Fence emits a full pipeline sync followed by a coprocessor wait, so
// commands appended afterwards start on an idle rasterizer.
func (q *Queue) Fence() {
	q.emitSyncFull(0, 0)
	if q.block == nil {
		q.rsp.RDPWaitIdle()
	}
}

func (q *Queue) emitSyncFull(token, arg uint32) {
	q.sync.mask = 0
	q.sink.write(word(rdp.SyncFull, token, arg))
}

func (q *Queue) register(cb func(arg uint32), once bool) uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	token := q.nextTok
	for token == 0 || q.tokens[token] != nil {
		token = (token + 1) & 0xFFFFFF
	}
	q.nextTok = (token + 1) & 0xFFFFFF
	q.tokens[token] = &completion{cb: cb, once: once}
	return token
}

// onCompletion is the completion interrupt handler. It acknowledges the
// interrupt before dispatching, so a slow callback never blocks the
// next completion from being latched.
func (q *Queue) onCompletion() {
	w, pending := q.dev.SyncFull()
	if !pending {
		return
	}
	q.dev.AckSyncFull()
	token := rdp.Bits(w, 32, 55)
	arg := uint32(w)
	if token == 0 {
		return
	}
	q.mu.Lock()
	c := q.tokens[token]
	var cb func(uint32)
	switch {
	case c == nil:
	case c.once && c.fired:
		log.W(q.ctx, "completion token %06x fired more than once, dropped", token)
	default:
		c.fired = true
		cb = c.cb
	}
	q.mu.Unlock()
	if c == nil {
		log.W(q.ctx, "completion for unknown token %06x", token)
		return
	}
	if cb != nil {
		cb(arg)
	}
}
