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
	"context"
	"time"

	"github.com/vmware/vmware-go-couchhouse/clientlibrary/config"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/database"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/database/models"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/database/sqlite"
	par "github.com/vmware/vmware-go-couchhouse/clientlibrary/partition"
	"github.com/vmware/vmware-go-couchhouse/logger"
)

const sqliteOpTimeout = 30 * time.Second

// SQLiteCheckpoint implements the Checkpoint interface on top of a database.CheckpointDatastore.
type SQLiteCheckpoint struct {
	log       logger.Logger
	path      string
	workerID  string
	Datastore database.CheckpointDatastore
}

func NewSQLiteCheckpoint(cfg *config.ReplicatorConfiguration) *SQLiteCheckpoint {
	return &SQLiteCheckpoint{
		log:      cfg.Logger,
		path:     cfg.SQLitePath,
		workerID: cfg.WorkerID,
	}
}

// WithDatastore is used to provide an already opened datastore
func (c *SQLiteCheckpoint) WithDatastore(ds database.CheckpointDatastore) *SQLiteCheckpoint {
	c.Datastore = ds
	return c
}

// Init opens the checkpoint database unless a datastore was provided, then checks it responds.
func (c *SQLiteCheckpoint) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	if c.Datastore == nil {
		c.log.Infof("Opening checkpoint database %s", c.path)
		store, err := sqlite.Open(ctx, c.path)
		if err != nil {
			return err
		}
		c.Datastore = store
	}

	if err := c.Datastore.PingContext(ctx); err != nil {
		c.log.Errorf("Checkpoint database is not reachable: %+v", err)
		return err
	}
	return nil
}

func (c *SQLiteCheckpoint) CheckpointSequence(feed *par.FeedStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	return c.Datastore.SaveCheckpoint(ctx, &models.Checkpoint{
		FeedID:         feed.ID,
		SequenceNumber: feed.GetCheckpoint(),
		WorkerID:       c.workerID,
	})
}

func (c *SQLiteCheckpoint) FetchCheckpoint(feed *par.FeedStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	ck, err := c.Datastore.GetCheckpoint(ctx, feed.ID)
	if err != nil {
		c.log.Errorf("unable to fetch checkpoint: %s", err)
		return err
	}

	if ck == nil || ck.SequenceNumber == "" {
		return ErrSequenceIDNotFound
	}

	c.log.Debugf("Retrieved checkpoint %s written by %s", ck.SequenceNumber, ck.WorkerID)
	feed.SetCheckpoint(ck.SequenceNumber)
	return nil
}

func (c *SQLiteCheckpoint) RemoveCheckpoint(feedID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sqliteOpTimeout)
	defer cancel()

	if err := c.Datastore.RemoveCheckpoint(ctx, feedID); err != nil {
		c.log.Errorf("unable to remove checkpoint for feed: %s: %s", feedID, err)
		return err
	}

	c.log.Infof("Checkpoint for feed: %s has been removed.", feedID)
	return nil
}

func (c *SQLiteCheckpoint) Close() error {
	if c.Datastore == nil {
		return nil
	}
	return c.Datastore.Close()
}
