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

package config

import (
	"errors"
	"log"
	"strings"

	creds "github.com/aws/aws-sdk-go/aws/credentials"

	"github.com/vmware/vmware-go-couchhouse/clientlibrary/metrics"
	"github.com/vmware/vmware-go-couchhouse/logger"
)

const (
	// SYNC_FLUSH waits until the sink has durably stored the batch before the write returns.
	SYNC_FLUSH DurabilityMode = iota + 1
	// ASYNC_ACK returns as soon as the sink has accepted the batch for processing.
	ASYNC_ACK
)

const (
	// NORMAL reads the change feed up to its current end and then completes.
	NORMAL FeedMode = iota + 1
	// CONTINUOUS keeps the change feed open forever, waiting for new changes.
	CONTINUOUS
)

const (
	// FILE stores checkpoints as JSON documents on the local file system.
	FILE CheckpointStore = iota + 1
	// DYNAMODB stores checkpoints in a DynamoDB table.
	DYNAMODB
	// SQLITE stores checkpoints in a local SQLite database.
	SQLITE
)

const (
	// BeginningSequence is the CouchDB sequence that starts a change feed at the very first change.
	BeginningSequence = "0"

	// Number of change events written to the sink in a single bulk insert.
	DefaultBatchSize = 100

	// Upper bound of change events which have left the batcher but whose batch has not been
	// checkpointed yet. The batcher stops pulling from the change feed once it is reached.
	DefaultMaxInFlightEvents = 2 * DefaultBatchSize

	// Capacity of the channels connecting the pipeline stages.
	DefaultChannelBufferSize = 1

	// The sink acknowledges a batch before it is flushed to disk by default. See SYNC_FLUSH.
	DefaultDurabilityMode = ASYNC_ACK

	// Let the sink parse any reasonable date/time representation found in documents.
	DefaultBestEffortTimestamps = true

	DefaultFeedMode = CONTINUOUS

	// CouchDB sends a newline every heartbeat on an idle continuous feed.
	DefaultHeartbeatMillis = 30000

	DefaultCouchDBURL = "http://127.0.0.1:5984"

	DefaultClickHouseAddr = "127.0.0.1:9000"

	// Every feed is replicated into a table named after it in this ClickHouse database.
	DefaultClickHouseDatabase = "couchhouse"

	DefaultClickHouseUsername = "default"

	DefaultDialTimeoutMillis = 10000

	// Sink writes taking longer than this are treated as failed.
	DefaultWriteTimeoutMillis = 60000

	DefaultCheckpointStore = FILE

	// Directory holding couchhouse_state_<feed>.json files.
	DefaultStateDir = "."

	DefaultSQLitePath = "couchhouse_state.db"

	// The DynamoDB checkpoint table will be provisioned with this read capacity.
	DefaultInitialCheckpointTableReadCapacity = 5

	// The DynamoDB checkpoint table will be provisioned with this write capacity.
	DefaultInitialCheckpointTableWriteCapacity = 5

	// The amount of milliseconds to wait for in-flight batches on shutdown before forcefully terminating.
	DefaultShutdownGraceMillis = 30000
)

// ErrMissingFeedIdentity is returned when no source database has been configured.
var ErrMissingFeedIdentity = errors.New("missing feed identity: no source database configured")

type (
	// DurabilityMode selects how long a sink write waits before it is considered successful.
	DurabilityMode int

	// FeedMode selects whether the change feed ends once caught up or runs forever.
	FeedMode int

	// CheckpointStore selects the backend used to persist the last processed sequence.
	CheckpointStore int

	// ReplicatorConfiguration holds everything needed to replicate one CouchDB database into ClickHouse.
	ReplicatorConfiguration struct {
		// ApplicationName is the name of the application, used as metric namespace and DynamoDB table name.
		ApplicationName string

		// FeedID identifies the replicated change feed, i.e. the source database name. Required.
		FeedID string

		// WorkerID used to distinguish different processes in logs and metrics.
		WorkerID string

		// CouchDBURL is the server URL of CouchDB/Cloudant, credentials may be part of the URL.
		CouchDBURL string

		// FeedMode is NORMAL for a bounded run and CONTINUOUS to follow the feed forever.
		FeedMode FeedMode

		// HeartbeatMillis keeps an idle continuous feed alive.
		HeartbeatMillis int

		// ClickHouseAddr lists the host:port of the ClickHouse servers.
		ClickHouseAddr []string

		// ClickHouseDatabase is the database holding one table per feed.
		ClickHouseDatabase string

		ClickHouseUsername string
		ClickHousePassword string

		// DialTimeoutMillis bounds connecting to ClickHouse.
		DialTimeoutMillis int

		// WriteTimeoutMillis bounds a single bulk insert.
		WriteTimeoutMillis int

		// DurabilityMode is ASYNC_ACK by default, which allows a checkpoint to be stored for a batch
		// which ClickHouse has accepted but not yet flushed. Use SYNC_FLUSH to close that window.
		DurabilityMode DurabilityMode

		// BestEffortTimestamps asks the sink to parse date/time strings leniently.
		BestEffortTimestamps bool

		// BatchSize is the number of change events per sink write.
		BatchSize int

		// MaxInFlightEvents bounds the events handed to the sink writer but not yet checkpointed.
		MaxInFlightEvents int

		// ChannelBufferSize is the capacity of the channels between pipeline stages.
		ChannelBufferSize int

		// CheckpointStore selects the checkpoint backend.
		CheckpointStore CheckpointStore

		// StateDir is the directory of FILE checkpoints.
		StateDir string

		// SQLitePath is the database file of SQLITE checkpoints.
		SQLitePath string

		// TableName is the DynamoDB table of DYNAMODB checkpoints, default to ApplicationName.
		TableName string

		// RegionName The region name for DynamoDB and CloudWatch
		RegionName string

		// DynamoDBEndpoint is an optional endpoint URL that overrides the default generated endpoint for a DynamoDB client.
		DynamoDBEndpoint string

		// DynamoDBCredentials is used to access DynamoDB
		DynamoDBCredentials *creds.Credentials

		// Read capacity to provision when creating the checkpoint table (dynamoDB).
		InitialCheckpointTableReadCapacity int

		// Write capacity to provision when creating the checkpoint table (dynamoDB).
		InitialCheckpointTableWriteCapacity int

		// ShutdownGraceMillis The number of milliseconds before graceful shutdown terminates forcefully
		ShutdownGraceMillis int

		// Logger used to log message.
		Logger logger.Logger

		// MonitoringService publishes per worker-scoped metrics.
		MonitoringService metrics.MonitoringService
	}
)

var durabilityModeMap = map[DurabilityMode]string{
	SYNC_FLUSH: "SYNC_FLUSH",
	ASYNC_ACK:  "ASYNC_ACK",
}

func (m DurabilityMode) String() string {
	return durabilityModeMap[m]
}

var feedModeMap = map[FeedMode]string{
	NORMAL:     "normal",
	CONTINUOUS: "continuous",
}

// String returns the value of the CouchDB "feed" parameter.
func (m FeedMode) String() string {
	return feedModeMap[m]
}

var checkpointStoreMap = map[string]CheckpointStore{
	"file":     FILE,
	"dynamodb": DYNAMODB,
	"sqlite":   SQLITE,
}

// ParseDurabilityMode accepts "sync" or "async".
func ParseDurabilityMode(s string) (DurabilityMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sync", "sync_flush":
		return SYNC_FLUSH, nil
	case "async", "async_ack", "":
		return ASYNC_ACK, nil
	}
	return 0, errors.New("unknown durability mode: " + s)
}

// ParseFeedMode accepts "normal" or "continuous".
func ParseFeedMode(s string) (FeedMode, error) {
	for mode, name := range feedModeMap {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return mode, nil
		}
	}
	return 0, errors.New("unknown feed mode: " + s)
}

// ParseCheckpointStore accepts "file", "dynamodb" or "sqlite".
func ParseCheckpointStore(s string) (CheckpointStore, error) {
	if store, ok := checkpointStoreMap[strings.ToLower(strings.TrimSpace(s))]; ok {
		return store, nil
	}
	return 0, errors.New("unknown checkpoint store: " + s)
}

func empty(s string) bool {
	return len(strings.TrimSpace(s)) == 0
}

// checkIsValueNotEmpty makes sure the value is not empty.
func checkIsValueNotEmpty(key string, value string) {
	if empty(value) {
		// There is no point to continue for incorrect configuration. Fail fast!
		log.Panicf("Non-empty value expected for %v, actual: %v", key, value)
	}
}

// checkIsValuePositive makes sure the value is possitive.
func checkIsValuePositive(key string, value int) {
	if value <= 0 {
		// There is no point to continue for incorrect configuration. Fail fast!
		log.Panicf("Positive value expected for %v, actual: %v", key, value)
	}
}
