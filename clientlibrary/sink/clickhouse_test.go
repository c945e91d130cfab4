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
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware/vmware-go-couchhouse/clientlibrary/config"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/interfaces"
)

type mockConn struct {
	queries  []string
	waits    []bool
	deadline bool
	err      error
	closed   bool
}

func (m *mockConn) AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error {
	m.queries = append(m.queries, query)
	m.waits = append(m.waits, wait)
	_, m.deadline = ctx.Deadline()
	return m.err
}

func (m *mockConn) Ping(ctx context.Context) error { return nil }

func (m *mockConn) Close() error {
	m.closed = true
	return nil
}

func newTestSink(t *testing.T, conn *mockConn) *ClickHouseSink {
	t.Helper()
	cfg, err := config.NewReplicatorConfig("couchhouse", "orders", "worker-1")
	require.NoError(t, err)
	cfg.WithWriteTimeoutMillis(1000)
	return NewClickHouseSink(cfg).WithConn(conn)
}

func TestBulkInsert(t *testing.T) {
	conn := &mockConn{}
	s := newTestSink(t, conn)

	docs := []map[string]interface{}{
		{"id": "a", "n": 1},
		{"id": "b", "note": "<b>&"},
	}
	err := s.BulkInsert(context.Background(), TableIdentifier("couchhouse", "orders"), docs,
		&interfaces.InsertOptions{Durability: config.ASYNC_ACK, BestEffortTimestamps: true})
	require.NoError(t, err)

	require.Len(t, conn.queries, 1)
	lines := strings.Split(strings.TrimSuffix(conn.queries[0], "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "INSERT INTO `couchhouse`.`orders` FORMAT JSONEachRow", lines[0])
	assert.JSONEq(t, `{"id":"a","n":1}`, lines[1])
	assert.JSONEq(t, `{"id":"b","note":"<b>&"}`, lines[2])
	assert.Contains(t, lines[2], "<b>&")
	assert.False(t, conn.waits[0])
	assert.True(t, conn.deadline)
}

func TestBulkInsertSyncFlush(t *testing.T) {
	conn := &mockConn{}
	s := newTestSink(t, conn)

	err := s.BulkInsert(context.Background(), TableIdentifier("couchhouse", "orders"),
		[]map[string]interface{}{{"id": "a"}}, &interfaces.InsertOptions{Durability: config.SYNC_FLUSH})
	require.NoError(t, err)
	assert.True(t, conn.waits[0])
}

func TestBulkInsertEmpty(t *testing.T) {
	conn := &mockConn{}
	s := newTestSink(t, conn)

	require.NoError(t, s.BulkInsert(context.Background(), "`a`.`b`", nil, nil))
	assert.Empty(t, conn.queries)
}

func TestBulkInsertError(t *testing.T) {
	conn := &mockConn{err: errors.New("table does not exist")}
	s := newTestSink(t, conn)

	err := s.BulkInsert(context.Background(), "`a`.`b`", []map[string]interface{}{{"id": "a"}}, nil)
	assert.EqualError(t, err, "table does not exist")
}

func TestBulkInsertUnencodable(t *testing.T) {
	conn := &mockConn{}
	s := newTestSink(t, conn)

	err := s.BulkInsert(context.Background(), "`a`.`b`", []map[string]interface{}{{"ch": make(chan int)}}, nil)
	assert.Error(t, err)
	assert.Empty(t, conn.queries)
}

func TestConnectAndClose(t *testing.T) {
	conn := &mockConn{}
	s := newTestSink(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.Close())
	assert.True(t, conn.closed)
}

func TestTableIdentifier(t *testing.T) {
	assert.Equal(t, "`couchhouse`.`orders`", TableIdentifier("couchhouse", "orders"))
	assert.Equal(t, "`couchhouse`.`we\\`ird`", TableIdentifier("couchhouse", "we`ird"))
}
