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
	"strconv"
	"sync"
	"sync/atomic"

	kcl "github.com/vmware/vmware-go-couchhouse/clientlibrary/interfaces"
	par "github.com/vmware/vmware-go-couchhouse/clientlibrary/partition"
)

var (
	errFeed       = errors.New("connection reset by peer")
	errSink       = errors.New("clickhouse unavailable")
	errCheckpoint = errors.New("disk full")
)

// fakeFeed serves events with sequences 0001, 0002, ... and honours Since.
type fakeFeed struct {
	total      int // negative for an endless feed
	failAfter  int // fail once this many events were served by a stream, 0 to disable
	blockAtEnd bool

	mu     sync.Mutex
	opened []string
	pulled int64
}

func (f *fakeFeed) Open(ctx context.Context, input *kcl.OpenInput) (kcl.IChangeStream, error) {
	start, err := strconv.Atoi(input.Since)
	if err != nil {
		return nil, fmt.Errorf("bad since %q", input.Since)
	}
	f.mu.Lock()
	f.opened = append(f.opened, input.Since)
	f.mu.Unlock()
	return &fakeStream{feed: f, next: start + 1}, nil
}

func (f *fakeFeed) openedSince() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

func (f *fakeFeed) pulledEvents() int64 {
	return atomic.LoadInt64(&f.pulled)
}

type fakeStream struct {
	feed   *fakeFeed
	next   int
	served int
}

func (s *fakeStream) Next(ctx context.Context) (*kcl.ChangeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.feed.failAfter > 0 && s.served == s.feed.failAfter {
		return nil, errFeed
	}
	if s.feed.total >= 0 && s.next > s.feed.total {
		if s.feed.blockAtEnd {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return nil, io.EOF
	}

	id := fmt.Sprintf("doc-%04d", s.next)
	ev := &kcl.ChangeEvent{
		Seq: fmt.Sprintf("%04d", s.next),
		ID:  id,
		Doc: map[string]interface{}{"_id": id, "_rev": "1-abc", "n": s.next},
	}
	s.next++
	s.served++
	atomic.AddInt64(&s.feed.pulled, 1)
	return ev, nil
}

func (s *fakeStream) Close() error { return nil }

// fakeSink records every successful bulk insert.
type fakeSink struct {
	failOn int // 1-based call failing with errSink
	block  chan struct{}

	mu      sync.Mutex
	calls   int
	batches [][]map[string]interface{}
	targets []string
	options []*kcl.InsertOptions
	closed  bool
}

func (s *fakeSink) BulkInsert(ctx context.Context, target string, docs []map[string]interface{}, opts *kcl.InsertOptions) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if call == s.failOn {
		return errSink
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, docs)
	s.targets = append(s.targets, target)
	s.options = append(s.options, opts)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeSink) sizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := []int{}
	for _, b := range s.batches {
		sizes = append(sizes, len(b))
	}
	return sizes
}

func (s *fakeSink) written() int {
	total := 0
	for _, n := range s.sizes() {
		total += n
	}
	return total
}

// fakeCheckpointer keeps checkpoints in memory.
type fakeCheckpointer struct {
	fail bool

	mu     sync.Mutex
	stored map[string]string
	writes int
}

func (c *fakeCheckpointer) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stored == nil {
		c.stored = map[string]string{}
	}
	return nil
}

func (c *fakeCheckpointer) FetchCheckpoint(feed *par.FeedStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq, ok := c.stored[feed.ID]
	if !ok {
		return errors.New("not found")
	}
	feed.SetCheckpoint(seq)
	return nil
}

func (c *fakeCheckpointer) CheckpointSequence(feed *par.FeedStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.fail {
		return errCheckpoint
	}
	c.stored[feed.ID] = feed.GetCheckpoint()
	return nil
}

func (c *fakeCheckpointer) RemoveCheckpoint(feedID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.stored, feedID)
	return nil
}

func (c *fakeCheckpointer) Close() error { return nil }
