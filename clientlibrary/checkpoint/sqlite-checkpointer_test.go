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
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/vmware/vmware-go-couchhouse/clientlibrary/config"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/database/models"
	par "github.com/vmware/vmware-go-couchhouse/clientlibrary/partition"
)

func TestSQLiteCheckpoint(t *testing.T) {
	replicatorConfig, err := cfg.NewReplicatorConfig("appName", "orders", "worker-1")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "state.db")
	replicatorConfig.WithCheckpointStore(cfg.SQLITE).WithSQLitePath(path)

	checkpoint := NewSQLiteCheckpoint(replicatorConfig)
	require.NoError(t, checkpoint.Init())

	feed := par.NewFeedStatus("orders", "worker-1")
	assert.Equal(t, ErrSequenceIDNotFound, checkpoint.FetchCheckpoint(feed))

	feed.SetCheckpoint("0100")
	require.NoError(t, checkpoint.CheckpointSequence(feed))
	feed.SetCheckpoint("0200")
	require.NoError(t, checkpoint.CheckpointSequence(feed))
	require.NoError(t, checkpoint.Close())

	// a new process sees the last write
	reopened := NewSQLiteCheckpoint(replicatorConfig)
	require.NoError(t, reopened.Init())
	defer reopened.Close()

	status := par.NewFeedStatus("orders", "")
	require.NoError(t, reopened.FetchCheckpoint(status))
	assert.Equal(t, "0200", status.GetCheckpoint())

	require.NoError(t, reopened.RemoveCheckpoint("orders"))
	assert.Equal(t, ErrSequenceIDNotFound, reopened.FetchCheckpoint(status))
}

// unreachableDatastore fails every call, like a database on a vanished volume.
type unreachableDatastore struct{}

var errUnreachable = errors.New("disk I/O error")

func (unreachableDatastore) PingContext(context.Context) error { return errUnreachable }
func (unreachableDatastore) Close() error                      { return nil }
func (unreachableDatastore) GetCheckpoint(context.Context, string) (*models.Checkpoint, error) {
	return nil, errUnreachable
}
func (unreachableDatastore) SaveCheckpoint(context.Context, *models.Checkpoint) error {
	return errUnreachable
}
func (unreachableDatastore) RemoveCheckpoint(context.Context, string) error { return errUnreachable }

func TestSQLiteCheckpointInitPingsDatastore(t *testing.T) {
	replicatorConfig, err := cfg.NewReplicatorConfig("appName", "orders", "worker-1")
	require.NoError(t, err)

	checkpoint := NewSQLiteCheckpoint(replicatorConfig).WithDatastore(unreachableDatastore{})
	assert.ErrorIs(t, checkpoint.Init(), errUnreachable)
}
