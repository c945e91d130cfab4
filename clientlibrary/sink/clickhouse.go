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

package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/vmware/vmware-go-couchhouse/clientlibrary/config"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/interfaces"
	"github.com/vmware/vmware-go-couchhouse/logger"
)

// Conn is the subset of the ClickHouse native connection used by the sink.
type Conn interface {
	AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error
	Ping(ctx context.Context) error
	Close() error
}

// ClickHouseSink writes batches of documents to ClickHouse tables using JSONEachRow async inserts.
type ClickHouseSink struct {
	options      *clickhouse.Options
	writeTimeout time.Duration
	log          logger.Logger
	conn         Conn
}

var _ interfaces.ISink = (*ClickHouseSink)(nil)

func NewClickHouseSink(cfg *config.ReplicatorConfiguration) *ClickHouseSink {
	return &ClickHouseSink{
		options: &clickhouse.Options{
			Addr: cfg.ClickHouseAddr,
			Auth: clickhouse.Auth{
				Database: cfg.ClickHouseDatabase,
				Username: cfg.ClickHouseUsername,
				Password: cfg.ClickHousePassword,
			},
			DialTimeout: time.Duration(cfg.DialTimeoutMillis) * time.Millisecond,
			ReadTimeout: time.Duration(cfg.WriteTimeoutMillis) * time.Millisecond,
		},
		writeTimeout: time.Duration(cfg.WriteTimeoutMillis) * time.Millisecond,
		log:          cfg.Logger,
	}
}

// WithConn is used to provide a ClickHouse connection
func (s *ClickHouseSink) WithConn(conn Conn) *ClickHouseSink {
	s.conn = conn
	return s
}

// Connect opens the connection, unless one was provided, and pings the server.
func (s *ClickHouseSink) Connect(ctx context.Context) error {
	if s.conn == nil {
		conn, err := clickhouse.Open(s.options)
		if err != nil {
			return fmt.Errorf("opening clickhouse connection: %w", err)
		}
		s.conn = conn
		s.log.Infof("Connecting to ClickHouse at %s", strings.Join(s.options.Addr, ","))
	}

	ctx, cancel := context.WithTimeout(ctx, s.options.DialTimeout+time.Second)
	defer cancel()
	return s.conn.Ping(ctx)
}

// BulkInsert writes docs to target, a table identifier as returned by TableIdentifier, in a
// single INSERT. With config.SYNC_FLUSH the call returns once ClickHouse has flushed the
// rows, with config.ASYNC_ACK as soon as they have been accepted into the async insert buffer.
func (s *ClickHouseSink) BulkInsert(ctx context.Context, target string, docs []map[string]interface{}, opts *interfaces.InsertOptions) error {
	if len(docs) == 0 {
		return nil
	}
	if opts == nil {
		opts = &interfaces.InsertOptions{Durability: config.DefaultDurabilityMode}
	}

	query, err := insertQuery(target, docs)
	if err != nil {
		return err
	}

	settings := clickhouse.Settings{
		"async_insert": 1,
	}
	if opts.BestEffortTimestamps {
		settings["date_time_input_format"] = "best_effort"
	}
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(settings))

	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}

	return s.conn.AsyncInsert(ctx, query, opts.Durability == config.SYNC_FLUSH)
}

func (s *ClickHouseSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// TableIdentifier returns the quoted `database`.`table` identifier.
func TableIdentifier(database, table string) string {
	return quoteIdentifier(database) + "." + quoteIdentifier(table)
}

func quoteIdentifier(name string) string {
	r := strings.NewReplacer("\\", "\\\\", "`", "\\`")
	return "`" + r.Replace(name) + "`"
}

func insertQuery(target string, docs []map[string]interface{}) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("INSERT INTO ")
	buf.WriteString(target)
	buf.WriteString(" FORMAT JSONEachRow\n")

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, doc := range docs {
		// Encode terminates every row with a newline
		if err := enc.Encode(doc); err != nil {
			return "", fmt.Errorf("encoding row: %w", err)
		}
	}
	return buf.String(), nil
}
