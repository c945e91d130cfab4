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

package interfaces

import (
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/config"
)

// Containers for the values flowing through the replication pipeline
type (
	// ChangeEvent is a single entry of a change feed.
	ChangeEvent struct {
		// Seq is the opaque position of the change in the feed. Resuming a feed from Seq
		// yields the changes after it.
		Seq string

		// ID of the changed document.
		ID string

		// Deleted is set when the change is a deletion. Doc then holds the tombstone.
		Deleted bool

		// Doc is the document body as of this change.
		Doc map[string]interface{}
	}

	// Batch is an ordered, non-empty run of change events written to the sink at once.
	Batch struct {
		Events []*ChangeEvent
	}

	// OpenInput holds the parameters to IChangeFeed.Open
	OpenInput struct {
		// FeedID names the feed to open, i.e. the source database.
		FeedID string

		// Since is the sequence after which the feed starts, config.BeginningSequence for all changes.
		Since string

		// IncludeDocs asks for the document bodies to be sent along with each change.
		IncludeDocs bool
	}

	// InsertOptions holds the parameters to ISink.BulkInsert
	InsertOptions struct {
		Durability config.DurabilityMode

		// BestEffortTimestamps lets the sink parse date/time values in any reasonable format.
		BestEffortTimestamps bool
	}
)

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Events)
}

// LastSequence returns the sequence of the final event, which becomes the checkpoint once the batch is written.
func (b *Batch) LastSequence() string {
	if b.Len() == 0 {
		return ""
	}
	return b.Events[len(b.Events)-1].Seq
}

// Documents returns the documents of all events in order.
func (b *Batch) Documents() []map[string]interface{} {
	docs := make([]map[string]interface{}, 0, b.Len())
	if b == nil {
		return docs
	}
	for _, ev := range b.Events {
		docs = append(docs, ev.Doc)
	}
	return docs
}
