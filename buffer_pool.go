// Copyright 2021-2024 The Connect Authors
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

package connect

import (
	"bytes"
	"sync"
)

// buffer is a thin alias over bytes.Buffer so that bufferPool can hand out
// a concrete type with the Reset semantics pipeline code relies on.
type buffer = bytes.Buffer

// bufferPool centralizes the *bytes.Buffer reuse used throughout the read,
// decompress, decode and encode, compress, write pipeline (spec §4.4).
// Pooling buffers (rather than allocating fresh ones per request) is the
// same tactic the teacher's own internal helpers use to keep unary and
// streaming RPCs allocation-light.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool() *bufferPool {
	return &bufferPool{
		pool: sync.Pool{
			New: func() any { return new(buffer) },
		},
	}
}

func (p *bufferPool) Get() *buffer {
	buf, ok := p.pool.Get().(*buffer)
	if !ok {
		return new(buffer)
	}
	return buf
}

func (p *bufferPool) Put(buf *buffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}
