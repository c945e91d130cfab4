/*
 * Copyright (c) 2018 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */

package partition

import (
	"sync"
	"time"
)

// FeedStatus is the in-memory progress of one replicated change feed.
type FeedStatus struct {
	ID         string
	Checkpoint string
	AssignedTo string
	UpdatedAt  time.Time
	Mux        *sync.RWMutex
}

func NewFeedStatus(id, owner string) *FeedStatus {
	return &FeedStatus{
		ID:         id,
		AssignedTo: owner,
		Mux:        &sync.RWMutex{},
	}
}

func (fs *FeedStatus) GetOwner() string {
	fs.Mux.RLock()
	defer fs.Mux.RUnlock()
	return fs.AssignedTo
}

func (fs *FeedStatus) GetCheckpoint() string {
	fs.Mux.RLock()
	defer fs.Mux.RUnlock()
	return fs.Checkpoint
}

func (fs *FeedStatus) SetCheckpoint(c string) {
	fs.Mux.Lock()
	defer fs.Mux.Unlock()
	fs.Checkpoint = c
	fs.UpdatedAt = time.Now().UTC()
}

func (fs *FeedStatus) GetUpdatedAt() time.Time {
	fs.Mux.RLock()
	defer fs.Mux.RUnlock()
	return fs.UpdatedAt
}
