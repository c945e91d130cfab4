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

package checkpoint

import (
	"errors"
	"fmt"

	"github.com/vmware/vmware-go-couchhouse/clientlibrary/config"
	par "github.com/vmware/vmware-go-couchhouse/clientlibrary/partition"
	"github.com/vmware/vmware-go-couchhouse/logger"
)

const (
	FeedKeyKey        = "FeedID"
	SequenceNumberKey = "Checkpoint"
	OwnerKey          = "AssignedTo"
	UpdatedAtKey      = "UpdatedAt"
)

// ErrInvalidCheckpoint is returned when a stored checkpoint exists but cannot be read.
type ErrInvalidCheckpoint struct {
	location string
	cause    error
}

func (e ErrInvalidCheckpoint) Error() string {
	return fmt.Sprintf("invalid checkpoint at %s: %v", e.location, e.cause)
}

func (e ErrInvalidCheckpoint) Unwrap() error {
	return e.cause
}

// Checkpointer persists the sequence of the last change written to the sink, one value per feed.
type Checkpointer interface {
	// Init initialises the Checkpoint
	Init() error

	// FetchCheckpoint sets the stored checkpoint on the given feed, ErrSequenceIDNotFound if there is none
	FetchCheckpoint(*par.FeedStatus) error

	// CheckpointSequence durably overwrites the stored checkpoint with the feed's current one
	CheckpointSequence(*par.FeedStatus) error

	// RemoveCheckpoint forgets the checkpoint of a feed so the next run starts from the beginning
	RemoveCheckpoint(string) error

	// Close releases the resources held by the backend
	Close() error
}

// ErrSequenceIDNotFound is returned by FetchCheckpoint when no SequenceID is found
var ErrSequenceIDNotFound = errors.New("SequenceIDNotFoundForFeed")

// LoadCheckpoint fetches the checkpoint of feed and returns it. Any failure to read it is
// logged and replaced by config.BeginningSequence, so the feed is replayed from its start.
func LoadCheckpoint(c Checkpointer, feed *par.FeedStatus, log logger.Logger) string {
	err := c.FetchCheckpoint(feed)
	switch {
	case errors.Is(err, ErrSequenceIDNotFound):
		log.Infof("No checkpoint found for feed %s, starting from the beginning", feed.ID)
		feed.SetCheckpoint(config.BeginningSequence)
	case err != nil:
		log.Infof("Unable to read checkpoint for feed %s, starting from the beginning: %v", feed.ID, err)
		feed.SetCheckpoint(config.BeginningSequence)
	case feed.GetCheckpoint() == "":
		feed.SetCheckpoint(config.BeginningSequence)
	}
	return feed.GetCheckpoint()
}

// NewCheckpointer returns the Checkpointer selected by cfg.CheckpointStore. It still needs Init.
func NewCheckpointer(cfg *config.ReplicatorConfiguration) (Checkpointer, error) {
	switch cfg.CheckpointStore {
	case config.FILE:
		return NewFileCheckpoint(cfg), nil
	case config.DYNAMODB:
		return NewDynamoCheckpoint(cfg), nil
	case config.SQLITE:
		return NewSQLiteCheckpoint(cfg), nil
	}
	return nil, fmt.Errorf("unsupported checkpoint store: %d", cfg.CheckpointStore)
}
