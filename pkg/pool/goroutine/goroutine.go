// Copyright (c) 2023 The Libxs Authors. All rights reserved.
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

// Package goroutine wraps a worker pool for background jobs that must not run
// on a reactor thread, such as asynchronous dialing.
package goroutine

import (
	"time"

	"github.com/panjf2000/ants/v2"
)

const (
	// DefaultWorkerPoolSize sets up the capacity of the worker pool, 256 * 1024.
	DefaultWorkerPoolSize = 1 << 18

	// expiryDuration is the interval time to clean up the expired workers.
	expiryDuration = 10 * time.Second

	// nonblocking decides what to do when submitting a new task to a full
	// worker pool: waiting for an available worker or returning
	// ants.ErrPoolOverload directly.
	nonblocking = true
)

func init() {
	// Release the default pool from ants, the pools in use are created below.
	ants.Release()
}

// Pool is the alias of ants.Pool.
type Pool = ants.Pool

// Default instantiates a non-blocking *Pool with the capacity of
// DefaultWorkerPoolSize.
func Default() *Pool {
	options := ants.Options{ExpiryDuration: expiryDuration, Nonblocking: nonblocking}
	defaultAntsPool, _ := ants.NewPool(DefaultWorkerPoolSize, ants.WithOptions(options))
	return defaultAntsPool
}
