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

package changes

import (
	"context"
	"errors"
	"fmt"
	"io"

	kivik "github.com/go-kivik/kivik/v4"
	// registers the "couch" driver
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/vmware/vmware-go-couchhouse/clientlibrary/config"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-couchhouse/logger"
)

const driverName = "couch"

// CouchChangeFeed reads the _changes feed of CouchDB or Cloudant databases.
type CouchChangeFeed struct {
	url             string
	feedMode        config.FeedMode
	heartbeatMillis int
	log             logger.Logger
	client          *kivik.Client
}

var _ interfaces.IChangeFeed = (*CouchChangeFeed)(nil)

func NewCouchChangeFeed(cfg *config.ReplicatorConfiguration) *CouchChangeFeed {
	return &CouchChangeFeed{
		url:             cfg.CouchDBURL,
		feedMode:        cfg.FeedMode,
		heartbeatMillis: cfg.HeartbeatMillis,
		log:             cfg.Logger,
	}
}

// WithClient is used to provide an already configured kivik client
func (f *CouchChangeFeed) WithClient(client *kivik.Client) *CouchChangeFeed {
	f.client = client
	return f
}

// Open starts reading the changes of input.FeedID after input.Since. The stream stays
// bound to ctx: cancelling it ends the stream with ctx's error.
func (f *CouchChangeFeed) Open(ctx context.Context, input *interfaces.OpenInput) (interfaces.IChangeStream, error) {
	if f.client == nil {
		client, err := kivik.New(driverName, f.url)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", redact(f.url), err)
		}
		f.client = client
	}

	db := f.client.DB(input.FeedID)
	if err := db.Err(); err != nil {
		return nil, err
	}

	params := map[string]interface{}{
		"since":        input.Since,
		"include_docs": input.IncludeDocs,
		"feed":         f.feedMode.String(),
	}
	if f.feedMode == config.CONTINUOUS {
		params["heartbeat"] = f.heartbeatMillis
	}

	f.log.Debugf("Opening %s changes feed of %s since %s", f.feedMode, input.FeedID, input.Since)
	changes := db.Changes(ctx, kivik.Params(params))
	if err := changes.Err(); err != nil {
		return nil, err
	}

	return &couchChangeStream{
		changes:     changes,
		includeDocs: input.IncludeDocs,
	}, nil
}

type couchChangeStream struct {
	changes     *kivik.Changes
	includeDocs bool
}

func (s *couchChangeStream) Next(ctx context.Context) (*interfaces.ChangeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !s.changes.Next() {
		if err := s.changes.Err(); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, io.EOF
	}

	ev := &interfaces.ChangeEvent{
		Seq:     s.changes.Seq(),
		ID:      s.changes.ID(),
		Deleted: s.changes.Deleted(),
	}
	if s.includeDocs {
		// deletions may come without a body
		if err := s.changes.ScanDoc(&ev.Doc); err != nil && !ev.Deleted {
			return nil, fmt.Errorf("decoding document %s: %w", ev.ID, err)
		}
	}
	return ev, nil
}

func (s *couchChangeStream) Close() error {
	return s.changes.Close()
}
