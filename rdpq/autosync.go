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

// Autosync categories. Each bit enables automatic emission of the
// matching sync command before a hazardous resource reuse.
const (
	AutosyncPipe = 1 << iota
	AutosyncTile
	AutosyncLoad

	AutosyncDefault = AutosyncPipe | AutosyncTile | AutosyncLoad
)

// Busy mask layout: bits 0-7 the eight tile descriptors, bits 8-15 the
// TMEM regions, bit 16 the pipeline.
const (
	syncTiles   = 0x000000FF
	syncTMEMs   = 0x0000FF00
	syncPipe    = 0x00010000
	syncAllBusy = 0xFFFFFFFF
)

func syncTile(t int) uint32 { return 1 << uint(t&7) }
func syncTMEM(s int) uint32 { return 0x100 << uint(s&7) }

// autosync tracks which rasterizer resources are referenced by commands
// already emitted but possibly not yet retired. It works purely on
// emission order: a set bit means a sync is required before the resource
// may be changed. The ambient state is stacked across block recordings,
// which start pessimistically all-busy.
type autosync struct {
	mask  uint32
	cfg   uint32
	stack []uint32
}

// syncUse records that the resources in m are referenced by an
// outstanding command.
func (q *Queue) syncUse(m uint32) {
	q.sync.mask |= m
}

// syncChange emits the minimal sync commands needed before the resources
// in m may be safely changed, for every enabled autosync category.
func (q *Queue) syncChange(m uint32) {
	hit := q.sync.mask & m
	if hit&syncTiles != 0 && q.sync.cfg&AutosyncTile != 0 {
		q.SyncTile()
	}
	if hit&syncTMEMs != 0 && q.sync.cfg&AutosyncLoad != 0 {
		q.SyncLoad()
	}
	if hit&syncPipe != 0 && q.sync.cfg&AutosyncPipe != 0 {
		q.SyncPipe()
	}
}

// Autosync returns the enabled autosync categories.
func (q *Queue) Autosync() uint32 { return q.sync.cfg }

// SetAutosync replaces the enabled autosync categories and returns the
// previous value. Disabling a category makes the matching sync commands
// the caller's responsibility.
func (q *Queue) SetAutosync(cfg uint32) uint32 {
	old := q.sync.cfg
	q.sync.cfg = cfg
	return old
}

// ChangeAutosync enables the categories in on and disables those in off,
// returning the previous value.
func (q *Queue) ChangeAutosync(on, off uint32) uint32 {
	old := q.sync.cfg
	q.sync.cfg = (q.sync.cfg | on) &^ off
	return old
}
