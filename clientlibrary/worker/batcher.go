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

package worker

import (
	kcl "github.com/vmware/vmware-go-couchhouse/clientlibrary/interfaces"
)

// Batcher groups change events into batches of a fixed size without reordering them.
// It is not safe for concurrent use; one goroutine owns it.
type Batcher struct {
	size int
	buf  []*kcl.ChangeEvent
}

func NewBatcher(size int) *Batcher {
	if size <= 0 {
		size = 1
	}
	return &Batcher{
		size: size,
		buf:  make([]*kcl.ChangeEvent, 0, size),
	}
}

// Add replaces ev.Doc with its projection and buffers ev. Once the buffer holds a full batch,
// it is returned and the buffer starts over, otherwise Add returns nil.
func (b *Batcher) Add(ev *kcl.ChangeEvent) *kcl.Batch {
	ev.Doc = projectDocument(ev)
	b.buf = append(b.buf, ev)
	if len(b.buf) < b.size {
		return nil
	}

	// the batch takes ownership of the buffer
	batch := &kcl.Batch{Events: b.buf}
	b.buf = make([]*kcl.ChangeEvent, 0, b.size)
	return batch
}

// Flush returns whatever is buffered as a final short batch, nil when empty.
func (b *Batcher) Flush() *kcl.Batch {
	if len(b.buf) == 0 {
		return nil
	}
	batch := &kcl.Batch{Events: b.buf}
	b.buf = make([]*kcl.ChangeEvent, 0, b.size)
	return batch
}

// Len is the number of buffered events.
func (b *Batcher) Len() int {
	return len(b.buf)
}

// projectDocument returns a new map with _id renamed to id and _rev dropped; ev.Doc is left untouched.
func projectDocument(ev *kcl.ChangeEvent) map[string]interface{} {
	doc := make(map[string]interface{}, len(ev.Doc)+1)
	for k, v := range ev.Doc {
		if k == "_id" || k == "_rev" {
			continue
		}
		doc[k] = v
	}

	id := ev.ID
	if docID, ok := ev.Doc["_id"].(string); ok {
		id = docID
	}
	doc["id"] = id

	if ev.Deleted {
		doc["_deleted"] = true
	}
	return doc
}
