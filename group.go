// Copyright (c) 2024 The Libxs Authors. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package libxs

import (
	"runtime"

	"go.uber.org/multierr"

	errorx "github.com/jianjin/libxs/pkg/errors"
	"github.com/jianjin/libxs/pkg/pool/goroutine"
)

// Group is the set of reactors a process runs, one event loop per thread,
// with new connections assigned to the least-loaded reactor. It also carries
// a worker pool for background jobs that must not run on a reactor thread.
type Group struct {
	reactors []*Reactor
	pool     *goroutine.Pool
}

// NewGroup instantiates numReactors reactors and starts their event loops.
// A non-positive numReactors defaults to the number of CPUs.
func NewGroup(numReactors int, lockOSThread bool) (*Group, error) {
	if numReactors <= 0 {
		numReactors = runtime.NumCPU()
	}
	g := &Group{pool: goroutine.Default()}
	for i := 0; i < numReactors; i++ {
		r, err := NewReactor(lockOSThread)
		if err != nil {
			_ = g.Close()
			return nil, err
		}
		r.idx = i
		g.reactors = append(g.reactors, r)
		r.Start()
	}
	return g, nil
}

// ChooseReactor returns the reactor currently serving the fewest fds.
func (g *Group) ChooseReactor() *Reactor {
	chosen := g.reactors[0]
	minLoad := chosen.Load()
	for _, r := range g.reactors[1:] {
		if load := r.Load(); load < minLoad {
			minLoad = load
			chosen = r
		}
	}
	return chosen
}

// Reactors returns the reactors of the group.
func (g *Group) Reactors() []*Reactor {
	return g.reactors
}

// Submit runs task on the background worker pool.
func (g *Group) Submit(task func()) error {
	if task == nil {
		return errorx.ErrNilRunnable
	}
	return g.pool.Submit(task)
}

// Close stops every reactor, joins their threads and releases the worker
// pool.
func (g *Group) Close() (err error) {
	for _, r := range g.reactors {
		err = multierr.Append(err, r.Close())
	}
	g.pool.Release()
	return
}
