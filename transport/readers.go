// Copyright 2025 Mitch Bradley. All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package transport

import "sync"

// readerSet is an ordered registry of readers. Dispatch copies the
// registered set before iterating so a reader may remove itself (or
// register another) while a chunk is being delivered.
type readerSet struct {
	mu      sync.Mutex
	nextID  int
	order   []int
	readers map[int]Reader
}

func (rs *readerSet) add(r Reader) (remove func()) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.readers == nil {
		rs.readers = make(map[int]Reader)
	}
	id := rs.nextID
	rs.nextID++
	rs.readers[id] = r
	rs.order = append(rs.order, id)

	return func() {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		delete(rs.readers, id)
		for i, v := range rs.order {
			if v == id {
				rs.order = append(rs.order[:i], rs.order[i+1:]...)
				break
			}
		}
	}
}

func (rs *readerSet) dispatch(chunk []byte) {
	rs.mu.Lock()
	active := make([]Reader, 0, len(rs.order))
	for _, id := range rs.order {
		if r, ok := rs.readers[id]; ok {
			active = append(active, r)
		}
	}
	rs.mu.Unlock()

	for _, r := range active {
		r(chunk)
	}
}
