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

package rspq

import (
	"context"
	"sync"
	"testing"

	"github.com/polypoyo/libdragon/core/assert"
	"github.com/polypoyo/libdragon/core/log"
	"github.com/polypoyo/libdragon/rdp"
	"github.com/polypoyo/libdragon/rdp/device"
	"github.com/polypoyo/libdragon/rdp/rdram"
)

// stopped returns a queue whose consumer is not running, for white-box
// inspection of the pending records.
func stopped() *Queue {
	q := &Queue{lastRDP: -1, done: make(chan struct{})}
	q.notIdle = sync.NewCond(&q.mu)
	q.idle = sync.NewCond(&q.mu)
	return q
}

func TestSubmitCoalescing(t *testing.T) {
	ctx := log.Testing(t)
	q := stopped()

	// An empty range establishes the buffer start; growing it patches
	// the previous record instead of appending.
	q.SubmitRDP(0x1000, 0x1000)
	q.SubmitRDP(0x1000, 0x1040)
	q.SubmitRDP(0x1040, 0x1080)
	assert.For(ctx, "coalesced").ThatSlice(q.buf).Equals([]uint32{cmdRDP<<24 | 0x1080, 0x1000})

	// Any other record in between breaks the chain.
	q.Noop()
	q.SubmitRDP(0x1080, 0x10C0)
	assert.For(ctx, "split").ThatSlice(q.buf).Equals([]uint32{
		cmdRDP<<24 | 0x1080, 0x1000,
		cmdNoop << 24,
		cmdRDP<<24 | 0x10C0, 0x1080,
	})

	// A submit that does not continue the previous range appends too.
	q.SubmitRDP(0x2000, 0x2040)
	assert.For(ctx, "discontiguous").ThatInteger(len(q.buf)).Equals(7)
}

func TestSubmitRunsDevice(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 16)
	dev := device.New(mem)
	q, err := Init(ctx, Config{Memory: mem, Device: dev})
	assert.For(ctx, "init").ThatError(err).Succeeded()
	defer q.Close()

	// A fill sequence targeting a 4x1 RGBA32 buffer at 0x4000.
	words := []uint64{
		uint64(rdp.SetColorImage)<<56 | 3<<51 | 3<<32 | 0x4000,
		uint64(rdp.SetScissor)<<56 | uint64(4<<2)<<12 | uint64(1<<2),
		uint64(rdp.SetOtherModes)<<56 | uint64(rdp.CycleFill)<<52,
		uint64(rdp.SetFillColor)<<56 | 0x01020304,
		uint64(rdp.FillRect)<<56 | uint64(3<<2)<<44,
	}
	for i, w := range words {
		mem.SetUint64(0x1000+uint32(i)*8, w)
	}
	q.SubmitRDP(0x1000, 0x1000+uint32(len(words))*8)
	q.RDPWaitIdle()
	assert.For(ctx, "wait").ThatError(q.Wait(ctx)).Succeeded()

	for x := uint32(0); x < 4; x++ {
		assert.For(ctx, "pixel %d", x).ThatInteger(int(mem.Uint32(0x4000 + x*4))).Equals(0x01020304)
	}
}

type recordingOverlay struct {
	mu   sync.Mutex
	recs [][]uint32
}

func (o *recordingOverlay) Size(cmd uint32) int { return int(cmd) + 1 }

func (o *recordingOverlay) Execute(ctx context.Context, cmd uint32, rec []uint32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := make([]uint32, len(rec))
	copy(cp, rec)
	o.recs = append(o.recs, cp)
	return nil
}

func TestOverlayDispatch(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 12)
	dev := device.New(mem)
	q, err := Init(ctx, Config{Memory: mem, Device: dev})
	assert.For(ctx, "init").ThatError(err).Succeeded()
	defer q.Close()

	ovl := &recordingOverlay{}
	assert.For(ctx, "register").ThatError(q.RegisterOverlay(0xC0, 0x40, ovl)).Succeeded()

	q.Write(0xC0, 0x123456)
	q.Write(0xC2, 0xABCDEF, 7, 8)
	assert.For(ctx, "wait").ThatError(q.Wait(ctx)).Succeeded()

	ovl.mu.Lock()
	defer ovl.mu.Unlock()
	assert.For(ctx, "records").ThatInteger(len(ovl.recs)).Equals(2)
	assert.For(ctx, "first").ThatSlice(ovl.recs[0]).Equals([]uint32{0xC0123456})
	assert.For(ctx, "second").ThatSlice(ovl.recs[1]).Equals([]uint32{0xC2ABCDEF, 7, 8})
}

func TestOverlayOverlap(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 12)
	dev := device.New(mem)
	q, err := Init(ctx, Config{Memory: mem, Device: dev})
	assert.For(ctx, "init").ThatError(err).Succeeded()
	defer q.Close()

	ovl := &recordingOverlay{}
	assert.For(ctx, "first").ThatError(q.RegisterOverlay(0xC0, 0x40, ovl)).Succeeded()
	assert.For(ctx, "overlap").ThatError(q.RegisterOverlay(0xE0, 0x10, ovl)).Failed()
	q.UnregisterOverlay(0xC0)
	assert.For(ctx, "after unregister").ThatError(q.RegisterOverlay(0xE0, 0x10, ovl)).Succeeded()
}

func TestUnknownCommand(t *testing.T) {
	ctx := log.Testing(t)
	mem := rdram.New(1 << 12)
	dev := device.New(mem)
	q, err := Init(ctx, Config{Memory: mem, Device: dev})
	assert.For(ctx, "init").ThatError(err).Succeeded()
	defer q.Close()

	q.Write(0x42, 0)
	assert.For(ctx, "latched").ThatError(q.Wait(ctx)).Failed()
}
