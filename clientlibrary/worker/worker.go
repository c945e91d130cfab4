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
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Jeffail/checkpoint"
	"github.com/Jeffail/shutdown"
	"golang.org/x/sync/errgroup"

	"github.com/vmware/vmware-go-couchhouse/clientlibrary/changes"
	chk "github.com/vmware/vmware-go-couchhouse/clientlibrary/checkpoint"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/config"
	kcl "github.com/vmware/vmware-go-couchhouse/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/metrics"
	par "github.com/vmware/vmware-go-couchhouse/clientlibrary/partition"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/sink"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/utils"
)

// ErrShutdownTimeout is reported when batches were still pending once the shutdown grace period ran out.
var ErrShutdownTimeout = errors.New("shutdown grace period exceeded")

// ErrAlreadyStarted is returned by Start when called more than once.
var ErrAlreadyStarted = errors.New("worker already started")

/**
 * Worker replicates one change feed into the sink. It reads changes from the source, groups them
 * into batches, writes each batch and checkpoints its last sequence, with bounded buffers between
 * all stages so a slow sink eventually stops the reads from the source.
 */
type Worker struct {
	feedID   string
	workerID string

	cfg          *config.ReplicatorConfiguration
	feed         kcl.IChangeFeed
	sink         kcl.ISink
	checkpointer chk.Checkpointer
	mService     metrics.MonitoringService

	status  *par.FeedStatus
	tracker *checkpoint.Capped[string]
	shutSig *shutdown.Signaller

	startOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// trackedBatch is a batch handed to the sink writer along with the function releasing its in-flight slots.
type trackedBatch struct {
	batch   *kcl.Batch
	resolve func() *string
}

// NewWorker constructs a Worker replicating cfg.FeedID.
func NewWorker(cfg *config.ReplicatorConfiguration) *Worker {
	mService := cfg.MonitoringService
	if mService == nil {
		// Replaces nil with noop monitor service (not emitting any metrics).
		mService = metrics.NoopMonitoringService{}
	}

	return &Worker{
		feedID:   cfg.FeedID,
		workerID: cfg.WorkerID,
		cfg:      cfg,
		mService: mService,
		shutSig:  shutdown.NewSignaller(),
	}
}

// WithChangeFeed is used to provide a custom change feed source or a fake for unit testing.
func (w *Worker) WithChangeFeed(feed kcl.IChangeFeed) *Worker {
	w.feed = feed
	return w
}

// WithSink is used to provide a custom sink or a fake for unit testing.
func (w *Worker) WithSink(s kcl.ISink) *Worker {
	w.sink = s
	return w
}

// WithCheckpointer is used to provide a custom checkpointer or unit testing.
func (w *Worker) WithCheckpointer(checker chk.Checkpointer) *Worker {
	w.checkpointer = checker
	return w
}

// Start loads the checkpoint, opens the change feed after it and starts replicating in the
// background. Use Wait for the outcome.
func (w *Worker) Start() error {
	err := ErrAlreadyStarted
	w.startOnce.Do(func() {
		err = w.start()
		if err != nil {
			w.setErr(err)
			w.shutSig.TriggerHasStopped()
		}
	})
	return err
}

func (w *Worker) start() error {
	log := w.cfg.Logger

	if len(w.feedID) == 0 {
		log.Errorf("Refusing to start: %v", config.ErrMissingFeedIdentity)
		return config.ErrMissingFeedIdentity
	}

	if err := w.initialize(); err != nil {
		log.Errorf("Failed to initialize Worker: %+v", err)
		w.release()
		return err
	}

	since := chk.LoadCheckpoint(w.checkpointer, w.status, log)
	log.Infof("Starting changes feed from %s...", utils.SequencePrefix(since))

	log.Infof("Starting monitoring service.")
	if err := w.mService.Start(); err != nil {
		log.Errorf("Failed to start monitoring service: %+v", err)
		w.release()
		return err
	}

	hardCtx, hardCancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-w.shutSig.HardStopChan():
		case <-w.shutSig.HasStoppedChan():
		}
		hardCancel()
	}()

	group, groupCtx := errgroup.WithContext(hardCtx)
	// reading from the source ends with a soft stop, everything else drains
	srcCtx, srcCancel := w.shutSig.SoftStopCtx(groupCtx)

	stream, err := w.feed.Open(srcCtx, &kcl.OpenInput{
		FeedID:      w.feedID,
		Since:       since,
		IncludeDocs: true,
	})
	if err != nil {
		srcCancel()
		hardCancel()
		w.mService.Shutdown()
		w.release()
		return fmt.Errorf("change feed failed: %w", err)
	}

	events := make(chan *kcl.ChangeEvent, w.cfg.ChannelBufferSize)
	batches := make(chan *trackedBatch, w.cfg.ChannelBufferSize)
	writer := w.newSinkWriter()

	group.Go(func() error { return w.readChanges(srcCtx, groupCtx, stream, events) })
	group.Go(func() error { return w.batchChanges(groupCtx, events, batches) })
	group.Go(func() error { return w.writeBatches(groupCtx, writer, batches) })

	go func() {
		err := group.Wait()
		srcCancel()

		if cerr := stream.Close(); cerr != nil {
			log.Debugf("Error closing change stream: %+v", cerr)
		}

		select {
		case <-w.shutSig.HardStopChan():
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrShutdownTimeout, err)
			}
		default:
		}

		if err != nil {
			log.Errorf("Replication of %s failed at checkpoint %s: %+v", w.feedID, utils.SequencePrefix(w.status.GetCheckpoint()), err)
		} else {
			log.Infof("Stopped")
		}

		w.setErr(err)
		w.mService.Shutdown()
		w.release()
		w.shutSig.TriggerHasStopped()
	}()

	return nil
}

// Wait blocks until the worker stopped and returns nil when the feed ended or the worker was
// shut down gracefully, the first failure otherwise.
func (w *Worker) Wait() error {
	<-w.shutSig.HasStoppedChan()
	return w.Err()
}

// Err returns the failure which stopped the worker, if any.
func (w *Worker) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Shutdown stops reading from the change feed and waits for all pending batches to be written
// and checkpointed. After ShutdownGraceMillis no further batch is written; a write already in
// progress still runs to completion or to its WriteTimeoutMillis.
func (w *Worker) Shutdown() {
	log := w.cfg.Logger
	log.Infof("Worker shutdown is requested.")

	// a worker which never started has nothing to drain
	w.startOnce.Do(func() { w.shutSig.TriggerHasStopped() })

	w.shutSig.TriggerSoftStop()

	grace := time.Duration(w.cfg.ShutdownGraceMillis) * time.Millisecond
	select {
	case <-w.shutSig.HasStoppedChan():
	case <-time.After(grace):
		log.Warnf("Pending batches not written after %s, terminating.", grace)
		w.shutSig.TriggerHardStop()
		<-w.shutSig.HasStoppedChan()
	}

	log.Infof("Worker loop is complete. Exiting from worker.")
}

// Run starts the worker and blocks until it stops on its own or ctx is cancelled, in which
// case it is shut down gracefully.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(); err != nil {
		return err
	}

	select {
	case <-w.shutSig.HasStoppedChan():
	case <-ctx.Done():
		w.Shutdown()
	}
	return w.Wait()
}

// ResetCheckpoint removes the stored checkpoint so the next run replays the feed from the beginning.
func (w *Worker) ResetCheckpoint() error {
	if len(w.feedID) == 0 {
		return config.ErrMissingFeedIdentity
	}
	if err := w.initializeCheckpointer(); err != nil {
		return err
	}
	return w.checkpointer.RemoveCheckpoint(w.feedID)
}

// initialize
func (w *Worker) initialize() error {
	log := w.cfg.Logger
	log.Infof("Worker initialization in progress...")

	if err := w.initializeCheckpointer(); err != nil {
		return err
	}

	if w.feed == nil {
		log.Infof("Creating CouchDB change feed")
		w.feed = changes.NewCouchChangeFeed(w.cfg)
	} else {
		log.Infof("Use custom change feed.")
	}

	if w.sink == nil {
		log.Infof("Creating ClickHouse sink")
		s := sink.NewClickHouseSink(w.cfg)
		if err := s.Connect(context.Background()); err != nil {
			log.Errorf("Failed to connect to ClickHouse: %+v", err)
			_ = s.Close()
			return err
		}
		w.sink = s
	} else {
		log.Infof("Use custom sink.")
	}

	if err := w.mService.Init(w.cfg.ApplicationName, w.feedID, w.workerID); err != nil {
		log.Errorf("Failed to start monitoring service: %+v", err)
	}

	w.status = par.NewFeedStatus(w.feedID, w.workerID)
	w.tracker = checkpoint.NewCapped[string](int64(w.cfg.MaxInFlightEvents))

	log.Infof("Initialization complete.")
	return nil
}

func (w *Worker) initializeCheckpointer() error {
	log := w.cfg.Logger
	if w.checkpointer == nil {
		c, err := chk.NewCheckpointer(w.cfg)
		if err != nil {
			return err
		}
		w.checkpointer = c
	} else {
		log.Infof("Use custom checkpointer implementation.")
	}

	log.Infof("Initializing Checkpointer")
	if err := w.checkpointer.Init(); err != nil {
		log.Errorf("Failed to start Checkpointer: %+v", err)
		return err
	}
	return nil
}

func (w *Worker) newSinkWriter() *SinkWriter {
	return &SinkWriter{
		feed:         w.status,
		target:       sink.TableIdentifier(w.cfg.ClickHouseDatabase, w.feedID),
		sink:         w.sink,
		checkpointer: w.checkpointer,
		options: &kcl.InsertOptions{
			Durability:           w.cfg.DurabilityMode,
			BestEffortTimestamps: w.cfg.BestEffortTimestamps,
		},
		mService: w.mService,
		log:      w.cfg.Logger,
	}
}

// readChanges pulls events from the stream until it ends or a soft stop is requested, then closes events.
func (w *Worker) readChanges(srcCtx, ctx context.Context, stream kcl.IChangeStream, events chan<- *kcl.ChangeEvent) error {
	for {
		ev, err := stream.Next(srcCtx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				w.cfg.Logger.Debugf("Change feed of %s caught up", w.feedID)
			case ctx.Err() != nil:
				return ctx.Err()
			case srcCtx.Err() != nil:
				w.cfg.Logger.Debugf("Stopped reading the change feed of %s", w.feedID)
			default:
				return fmt.Errorf("change feed failed: %w", err)
			}
			close(events)
			return nil
		}

		select {
		case events <- ev:
		case <-srcCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// ev is not checkpointed, the next run reads it again
			close(events)
			return nil
		}
	}
}

// batchChanges groups events into batches and hands them to the writer once their slots are tracked.
func (w *Worker) batchChanges(ctx context.Context, events <-chan *kcl.ChangeEvent, batches chan<- *trackedBatch) error {
	batcher := NewBatcher(w.cfg.BatchSize)

	emit := func(batch *kcl.Batch) error {
		resolve, err := w.tracker.Track(ctx, batch.LastSequence(), int64(batch.Len()))
		if err != nil {
			return err
		}
		select {
		case batches <- &trackedBatch{batch: batch, resolve: resolve}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case ev, open := <-events:
			if !open {
				if batch := batcher.Flush(); batch != nil {
					if err := emit(batch); err != nil {
						return err
					}
				}
				close(batches)
				return nil
			}
			if batch := batcher.Add(ev); batch != nil {
				if err := emit(batch); err != nil {
					return err
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// writeBatches writes batches strictly one after the other until the batcher closes the channel.
// A hard stop keeps new writes from starting but never cancels the one in progress: a write only
// ends by completing or by running into WriteTimeoutMillis.
func (w *Worker) writeBatches(ctx context.Context, writer *SinkWriter, batches <-chan *trackedBatch) error {
	writeTimeout := time.Duration(w.cfg.WriteTimeoutMillis) * time.Millisecond

	for {
		select {
		case tb, open := <-batches:
			if !open {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
			err := writer.ProcessBatch(writeCtx, tb.batch)
			cancel()
			if err != nil {
				return err
			}
			tb.resolve()
		case <-ctx.Done():
			select {
			case _, open := <-batches:
				if !open {
					// everything queued was already written
					return nil
				}
			default:
			}
			return ctx.Err()
		}
	}
}

func (w *Worker) setErr(err error) {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	w.err = err
}

// release closes the sink and the checkpointer.
func (w *Worker) release() {
	log := w.cfg.Logger
	if w.sink != nil {
		if err := w.sink.Close(); err != nil {
			log.Warnf("Error closing sink: %+v", err)
		}
	}
	if w.checkpointer != nil {
		if err := w.checkpointer.Close(); err != nil {
			log.Warnf("Error closing checkpointer: %+v", err)
		}
	}
}
