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

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/vmware/vmware-go-couchhouse/clientlibrary/config"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/metrics"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/metrics/prometheus"
)

func parse(t *testing.T, args ...string) (*config.ReplicatorConfiguration, error) {
	t.Helper()
	var cfg *config.ReplicatorConfiguration
	app := newApp()
	app.Action = func(c *cli.Context) error {
		var err error
		cfg, err = buildConfig(c)
		return err
	}
	err := app.Run(append([]string{"couchhouse"}, args...))
	return cfg, err
}

func TestDefaults(t *testing.T) {
	t.Setenv("CLOUDANT_DATABASE", "orders")

	cfg, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.FeedID)
	assert.Equal(t, "couchhouse", cfg.ApplicationName)
	assert.NotEmpty(t, cfg.WorkerID)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 200, cfg.MaxInFlightEvents)
	assert.Equal(t, config.ASYNC_ACK, cfg.DurabilityMode)
	assert.Equal(t, config.CONTINUOUS, cfg.FeedMode)
	assert.Equal(t, config.FILE, cfg.CheckpointStore)
	assert.Equal(t, []string{"127.0.0.1:9000"}, cfg.ClickHouseAddr)
	assert.IsType(t, metrics.NoopMonitoringService{}, cfg.MonitoringService)
}

func TestFlags(t *testing.T) {
	cfg, err := parse(t,
		"--database", "users",
		"--feed", "normal",
		"--batch-size", "500",
		"--durability", "sync",
		"--checkpoint-store", "sqlite",
		"--sqlite-path", "/tmp/state.db",
		"--clickhouse-addr", "ch1:9000,ch2:9000",
		"--metrics", "prometheus",
		"--log-backend", "zerolog",
	)
	require.NoError(t, err)
	assert.Equal(t, "users", cfg.FeedID)
	assert.Equal(t, config.NORMAL, cfg.FeedMode)
	assert.Equal(t, 500, cfg.BatchSize)
	assert.Equal(t, 1000, cfg.MaxInFlightEvents)
	assert.Equal(t, config.SYNC_FLUSH, cfg.DurabilityMode)
	assert.Equal(t, config.SQLITE, cfg.CheckpointStore)
	assert.Equal(t, "/tmp/state.db", cfg.SQLitePath)
	assert.Equal(t, []string{"ch1:9000", "ch2:9000"}, cfg.ClickHouseAddr)
	assert.IsType(t, &prometheus.MonitoringService{}, cfg.MonitoringService)
}

func TestMissingDatabase(t *testing.T) {
	t.Setenv("CLOUDANT_DATABASE", "")

	cfg, err := parse(t)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestInvalidValues(t *testing.T) {
	for _, args := range [][]string{
		{"--database", "orders", "--durability", "eventually"},
		{"--database", "orders", "--feed", "longpoll"},
		{"--database", "orders", "--checkpoint-store", "redis"},
		{"--database", "orders", "--metrics", "statsd"},
		{"--database", "orders", "--log-backend", "glog"},
		{"--database", "orders", "--log-format", "xml"},
	} {
		_, err := parse(t, args...)
		assert.Error(t, err, "%v", args)
	}
}
