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
	"context"
	"fmt"
	"time"

	chk "github.com/vmware/vmware-go-couchhouse/clientlibrary/checkpoint"
	kcl "github.com/vmware/vmware-go-couchhouse/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/metrics"
	par "github.com/vmware/vmware-go-couchhouse/clientlibrary/partition"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/utils"
	"github.com/vmware/vmware-go-couchhouse/logger"
)

// SinkWriter writes one batch at a time and advances the feed's checkpoint after each success.
type SinkWriter struct {
	feed         *par.FeedStatus
	target       string
	sink         kcl.ISink
	checkpointer chk.Checkpointer
	options      *kcl.InsertOptions
	mService     metrics.MonitoringService
	log          logger.Logger
}

// ProcessBatch writes batch to the sink, then stores its last sequence as the checkpoint.
// An empty batch is a no-op. Neither step is retried.
func (sw *SinkWriter) ProcessBatch(ctx context.Context, batch *kcl.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	writeStart := time.Now()
	if err := sw.sink.BulkInsert(ctx, sw.target, batch.Documents(), sw.options); err != nil {
		sw.mService.IncrSinkWriteFailures(sw.feed.ID)
		return fmt.Errorf("sink write failed: %w", err)
	}
	sw.mService.RecordSinkWriteTime(sw.feed.ID, float64(time.Since(writeStart).Milliseconds()))
	sw.mService.IncrEventsProcessed(sw.feed.ID, batch.Len())
	sw.mService.IncrBatchesWritten(sw.feed.ID)

	lastSeq := batch.LastSequence()
	sw.feed.SetCheckpoint(lastSeq)

	checkpointStart := time.Now()
	if err := sw.checkpointer.CheckpointSequence(sw.feed); err != nil {
		return fmt.Errorf("checkpoint write failed: %w", err)
	}
	sw.mService.RecordCheckpointTime(sw.feed.ID, float64(time.Since(checkpointStart).Milliseconds()))
	sw.mService.CheckpointAdvanced(sw.feed.ID)

	sw.log.Infof("process batch size %d - %s...", batch.Len(), utils.SequencePrefix(lastSeq))
	return nil
}
