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

package queue_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jianjin/libxs/internal/queue"
)

func TestTaskQueueOrder(t *testing.T) {
	tq := queue.NewTaskQueue()
	assert.True(t, tq.Empty())

	for i := 0; i < 3; i++ {
		task := queue.GetTask()
		task.Arg = i
		n := tq.Enqueue(task)
		assert.Equal(t, i+1, n)
	}

	for i := 0; i < 3; i++ {
		task := tq.Dequeue()
		assert.Equal(t, i, task.Arg)
		queue.PutTask(task)
	}
	assert.Nil(t, tq.Dequeue())
	assert.True(t, tq.Empty())
}

func TestTaskQueueConcurrentProducers(t *testing.T) {
	const producers = 4
	const perProducer = 1000

	tq := queue.NewTaskQueue()
	var wg sync.WaitGroup
	wg.Add(producers)
	for i := 0; i < producers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				task := queue.GetTask()
				tq.Enqueue(task)
			}
		}()
	}
	wg.Wait()

	var drained int
	for task := tq.Dequeue(); task != nil; task = tq.Dequeue() {
		drained++
		queue.PutTask(task)
	}
	assert.Equal(t, producers*perProducer, drained)
}
