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

// Package rspq models the coprocessor command queue that paces work to
// the rasterizer. Producers append fixed-format 32-bit command records
// to an append-only buffer; a single consumer goroutine decodes them in
// FIFO order, forwarding rasterizer buffer ranges to the device and
// dispatching overlay commands to their registered executors.
//
// Records start with a header word whose top byte selects the command:
// values below 0x10 are queue-internal, higher values belong to a
// registered overlay, which also dictates the record length.
package rspq

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/polypoyo/libdragon/core/fault"
	"github.com/polypoyo/libdragon/core/log"
	"github.com/polypoyo/libdragon/rdp/device"
	"github.com/polypoyo/libdragon/rdp/rdram"
)

// Queue-internal command ids (header top byte).
const (
	cmdNoop        = 0x00
	cmdRDP         = 0x01 // header holds the range end, next word the start
	cmdRDPWaitIdle = 0x02
)

const (
	// ErrClosed is returned when writing to a closed queue.
	ErrClosed = fault.Const("queue is closed")
	// ErrUnknownCommand is latched when the consumer meets a header no
	// overlay claims.
	ErrUnknownCommand = fault.Const("unknown command in queue")
)

// Overlay executes a range of command ids on the consumer goroutine.
type Overlay interface {
	// Size returns the record length in words of the given command id.
	Size(cmd uint32) int
	// Execute runs the command. rec is the full record, header included.
	Execute(ctx context.Context, cmd uint32, rec []uint32) error
}

type overlayEntry struct {
	base, count uint32
	ovl         Overlay
}

// Config carries the collaborators of a Queue.
type Config struct {
	Memory *rdram.Memory
	Device *device.Device
}

// Queue is a single-producer single-consumer command queue.
type Queue struct {
	dev *device.Device

	mu      sync.Mutex
	notIdle *sync.Cond // producer -> consumer: records available
	idle    *sync.Cond // consumer -> waiters: queue drained
	buf     []uint32
	ridx    int
	lastRDP int // index of the last unconsumed RDP submit header, -1 if none
	busy    bool
	closed  bool
	err     error

	overlays []overlayEntry
	done     chan struct{}
}

// Init starts the queue's consumer and returns the queue.
func Init(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Device == nil {
		return nil, errors.New("queue needs a device to feed")
	}
	q := &Queue{
		dev:     cfg.Device,
		lastRDP: -1,
		done:    make(chan struct{}),
	}
	q.notIdle = sync.NewCond(&q.mu)
	q.idle = sync.NewCond(&q.mu)
	go q.run(ctx)
	return q, nil
}

// Close drains the queue, stops the consumer and returns the first
// execution error, if any.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.notIdle.Broadcast()
	q.mu.Unlock()
	<-q.done
	return q.Err()
}

// Err returns the first error latched by the consumer.
func (q *Queue) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// RegisterOverlay claims the header top-byte range [base, base+count)
// for ovl. base must be outside the queue-internal range.
func (q *Queue) RegisterOverlay(base, count uint32, ovl Overlay) error {
	if base < 0x10 || base+count > 0x100 {
		return errors.Errorf("overlay range [0x%x..0x%x) out of bounds", base, base+count)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.overlays {
		if base < e.base+e.count && e.base < base+count {
			return errors.Errorf("overlay range [0x%x..0x%x) overlaps [0x%x..0x%x)",
				base, base+count, e.base, e.base+e.count)
		}
	}
	q.overlays = append(q.overlays, overlayEntry{base: base, count: count, ovl: ovl})
	return nil
}

// UnregisterOverlay releases the overlay registered at base.
func (q *Queue) UnregisterOverlay(base uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.overlays {
		if e.base == base {
			q.overlays = append(q.overlays[:i], q.overlays[i+1:]...)
			return
		}
	}
}

// RegisterDPHandler adds f to the rasterizer completion interrupt
// handlers and returns the unregister function.
func (q *Queue) RegisterDPHandler(f func()) (unregister func()) {
	return q.dev.RegisterHandler(f)
}

// SetDPInterrupt enables or disables the rasterizer completion interrupt.
func (q *Queue) SetDPInterrupt(enable bool) {
	q.dev.SetInterrupt(enable)
}

func (q *Queue) append(words ...uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		panic(ErrClosed)
	}
	q.buf = append(q.buf, words...)
	q.notIdle.Broadcast()
}

// Noop appends a command that does nothing.
func (q *Queue) Noop() {
	q.append(cmdNoop << 24)
}

// RDPWaitIdle appends a command that completes once the rasterizer has
// retired everything submitted before it.
func (q *Queue) RDPWaitIdle() {
	q.append(cmdRDPWaitIdle << 24)
}

// Write appends an overlay command record. cmd is the full header top
// byte (overlay base plus command id); arg0 must fit in 24 bits.
func (q *Queue) Write(cmd, arg0 uint32, args ...uint32) {
	rec := make([]uint32, 0, 1+len(args))
	rec = append(rec, cmd<<24|arg0&0xFFFFFF)
	rec = append(rec, args...)
	q.append(rec...)
}

// SubmitRDP appends a command submitting the rasterizer buffer range
// [start, end). If the previous record is a still-unconsumed submit
// whose end matches start, it is patched to cover the grown range
// instead of appending a new record.
func (q *Queue) SubmitRDP(start, end uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		panic(ErrClosed)
	}
	if q.lastRDP >= q.ridx && q.lastRDP == len(q.buf)-2 &&
		q.buf[q.lastRDP]&0xFFFFFF == start&0xFFFFFF {
		q.buf[q.lastRDP] = cmdRDP<<24 | end&0xFFFFFF
		return
	}
	q.lastRDP = len(q.buf)
	q.buf = append(q.buf, cmdRDP<<24|end&0xFFFFFF, start)
	q.notIdle.Broadcast()
}

// EncodeRDP returns the record SubmitRDP would append for the range
// [start, end), for callers that build record streams for Append.
func EncodeRDP(start, end uint32) [2]uint32 {
	return [2]uint32{cmdRDP<<24 | end&0xFFFFFF, start}
}

// Append splices pre-encoded records into the queue. Submit coalescing
// does not reach across a splice boundary.
func (q *Queue) Append(words []uint32) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		panic(ErrClosed)
	}
	q.buf = append(q.buf, words...)
	q.lastRDP = -1
	q.notIdle.Broadcast()
}

// Wait blocks until every appended record has executed, then returns
// the first latched error.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for (q.ridx < len(q.buf) || q.busy) && !q.closed {
		q.idle.Wait()
	}
	return q.err
}

func (q *Queue) setErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err == nil {
		q.err = err
	}
}

// size returns the record length for the header word, and the overlay
// owning it, nil for internal commands.
func (q *Queue) size(w uint32) (int, uint32, Overlay) {
	top := w >> 24
	if top < 0x10 {
		if top == cmdRDP {
			return 2, top, nil
		}
		return 1, top, nil
	}
	for _, e := range q.overlays {
		if e.base <= top && top < e.base+e.count {
			return e.ovl.Size(top - e.base), top - e.base, e.ovl
		}
	}
	return 1, top, nil
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)
	for {
		q.mu.Lock()
		for q.ridx == len(q.buf) && !q.closed {
			q.buf = q.buf[:0]
			q.ridx = 0
			q.lastRDP = -1
			q.idle.Broadcast()
			q.notIdle.Wait()
		}
		if q.ridx == len(q.buf) {
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		w := q.buf[q.ridx]
		n, cmd, ovl := q.size(w)
		if q.ridx+n > len(q.buf) {
			// The record tail has not been appended yet; wait for it.
			q.notIdle.Wait()
			q.mu.Unlock()
			continue
		}
		rec := make([]uint32, n)
		copy(rec, q.buf[q.ridx:q.ridx+n])
		q.ridx += n
		if q.lastRDP >= 0 && q.lastRDP < q.ridx {
			q.lastRDP = -1
		}
		q.busy = true
		q.mu.Unlock()

		if err := q.execute(ctx, cmd, ovl, rec); err != nil {
			log.E(ctx, "queue command %02x failed: %v", w>>24, err)
			q.setErr(err)
		}

		q.mu.Lock()
		q.busy = false
		q.idle.Broadcast()
		q.mu.Unlock()
	}
}

func (q *Queue) execute(ctx context.Context, cmd uint32, ovl Overlay, rec []uint32) error {
	if ovl != nil {
		return ovl.Execute(ctx, cmd, rec)
	}
	switch cmd {
	case cmdNoop:
		return nil
	case cmdRDP:
		return q.dev.Run(ctx, rec[1], rec[0]&0xFFFFFF)
	case cmdRDPWaitIdle:
		// The device model executes synchronously, so everything
		// submitted before this record has already retired.
		return nil
	default:
		return errors.Wrapf(ErrUnknownCommand, "header %08x", rec[0])
	}
}
