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

// Package queue supplies the task queue drained by a poller after it has been
// woken up from another thread.
package queue

import (
	"sync"

	equeue "github.com/eapache/queue"
)

// TaskFunc is the callback function executed on the poller thread.
type TaskFunc func(interface{}) error

// Task is a wrapper that contains a function and its argument.
type Task struct {
	Run TaskFunc
	Arg interface{}
}

var taskPool = sync.Pool{New: func() interface{} { return new(Task) }}

// GetTask gets a cached Task from pool.
func GetTask() *Task {
	return taskPool.Get().(*Task)
}

// PutTask puts the trashy Task back in pool.
func PutTask(task *Task) {
	task.Run, task.Arg = nil, nil
	taskPool.Put(task)
}

// TaskQueue is a FIFO of tasks shared between arbitrary producer threads and
// one consumer, the poller thread.
type TaskQueue struct {
	mu sync.Mutex
	q  *equeue.Queue
}

// NewTaskQueue instantiates a TaskQueue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{q: equeue.New()}
}

// Enqueue pushes a task and returns the queue length after the push, which
// lets the caller decide whether the consumer needs a wake-up: only the push
// that makes the queue non-empty does.
func (tq *TaskQueue) Enqueue(task *Task) (n int) {
	tq.mu.Lock()
	tq.q.Add(task)
	n = tq.q.Length()
	tq.mu.Unlock()
	return
}

// Dequeue pops the oldest task, returning nil when the queue is empty.
func (tq *TaskQueue) Dequeue() (task *Task) {
	tq.mu.Lock()
	if tq.q.Length() > 0 {
		task = tq.q.Remove().(*Task)
	}
	tq.mu.Unlock()
	return
}

// Empty reports whether the queue holds no tasks.
func (tq *TaskQueue) Empty() bool {
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return tq.q.Length() == 0
}
