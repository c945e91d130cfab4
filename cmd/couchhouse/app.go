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
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/vmware/vmware-go-couchhouse/clientlibrary/config"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/metrics"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/metrics/cloudwatch"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/metrics/prometheus"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/worker"
	"github.com/vmware/vmware-go-couchhouse/logger"
	"github.com/vmware/vmware-go-couchhouse/logger/zap"
	"github.com/vmware/vmware-go-couchhouse/logger/zerolog"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "couchhouse",
		Usage: "replicate a CouchDB/Cloudant database into ClickHouse",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database",
				Aliases:  []string{"d"},
				Usage:    "source database whose changes feed is replicated",
				EnvVars:  []string{"CLOUDANT_DATABASE"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "couchdb-url",
				Usage:   "CouchDB/Cloudant server URL, may carry credentials",
				EnvVars: []string{"COUCHDB_URL", "CLOUDANT_URL"},
				Value:   config.DefaultCouchDBURL,
			},
			&cli.StringFlag{
				Name:  "feed",
				Usage: "changes feed mode: normal stops once caught up, continuous runs forever",
				Value: config.DefaultFeedMode.String(),
			},
			&cli.IntFlag{
				Name:  "heartbeat-ms",
				Usage: "heartbeat of the continuous changes feed",
				Value: config.DefaultHeartbeatMillis,
			},
			&cli.StringFlag{
				Name:    "app-name",
				Usage:   "application name, used as metrics namespace and DynamoDB table name",
				EnvVars: []string{"COUCHHOUSE_APP_NAME"},
				Value:   "couchhouse",
			},
			&cli.StringFlag{
				Name:    "worker-id",
				Usage:   "identifies this process in logs, metrics and checkpoints (default: random UUID)",
				EnvVars: []string{"COUCHHOUSE_WORKER_ID"},
			},
			&cli.StringFlag{
				Name:    "clickhouse-addr",
				Usage:   "comma separated ClickHouse host:port list (native protocol)",
				EnvVars: []string{"CLICKHOUSE_ADDR"},
				Value:   config.DefaultClickHouseAddr,
			},
			&cli.StringFlag{
				Name:    "clickhouse-database",
				Usage:   "ClickHouse database holding one table per replicated database",
				EnvVars: []string{"CLICKHOUSE_DATABASE"},
				Value:   config.DefaultClickHouseDatabase,
			},
			&cli.StringFlag{
				Name:    "clickhouse-username",
				EnvVars: []string{"CLICKHOUSE_USERNAME"},
				Value:   config.DefaultClickHouseUsername,
			},
			&cli.StringFlag{
				Name:    "clickhouse-password",
				EnvVars: []string{"CLICKHOUSE_PASSWORD"},
			},
			&cli.IntFlag{
				Name:  "write-timeout-ms",
				Usage: "a bulk insert taking longer fails",
				Value: config.DefaultWriteTimeoutMillis,
			},
			&cli.StringFlag{
				Name:  "durability",
				Usage: "async: checkpoint once ClickHouse accepted a batch, sync: once it flushed it",
				Value: "async",
			},
			&cli.BoolFlag{
				Name:  "best-effort-timestamps",
				Usage: "let ClickHouse parse any reasonable date/time format",
				Value: config.DefaultBestEffortTimestamps,
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "number of changes per bulk insert",
				Value: config.DefaultBatchSize,
			},
			&cli.IntFlag{
				Name:  "max-in-flight",
				Usage: "changes read but not yet checkpointed before reading pauses (default: twice the batch size)",
			},
			&cli.IntFlag{
				Name:  "shutdown-grace-ms",
				Usage: "time allowed for pending batches on shutdown",
				Value: config.DefaultShutdownGraceMillis,
			},
			&cli.StringFlag{
				Name:  "checkpoint-store",
				Usage: "file, dynamodb or sqlite",
				Value: "file",
			},
			&cli.StringFlag{
				Name:  "state-dir",
				Usage: "directory of couchhouse_state_<database>.json files",
				Value: config.DefaultStateDir,
			},
			&cli.StringFlag{
				Name:  "sqlite-path",
				Usage: "checkpoint database of the sqlite store",
				Value: config.DefaultSQLitePath,
			},
			&cli.StringFlag{
				Name:  "dynamodb-table",
				Usage: "checkpoint table of the dynamodb store (default: app name)",
			},
			&cli.StringFlag{
				Name:    "region",
				Usage:   "AWS region of DynamoDB and CloudWatch",
				EnvVars: []string{"AWS_REGION"},
			},
			&cli.StringFlag{
				Name:  "dynamodb-endpoint",
				Usage: "alternative DynamoDB endpoint, e.g. a local DynamoDB",
			},
			&cli.StringFlag{
				Name:  "metrics",
				Usage: "none, prometheus or cloudwatch",
				Value: "none",
			},
			&cli.StringFlag{
				Name:  "metrics-listen",
				Usage: "listen address of the prometheus /metrics endpoint",
				Value: ":9090",
			},
			&cli.StringFlag{
				Name:  "log-backend",
				Usage: "logrus, zap or zerolog",
				Value: "logrus",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: logger.Info,
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json",
				Value: "text",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "also write JSON logs to this file, rotated",
			},
			&cli.BoolFlag{
				Name:  "reset",
				Usage: "forget the stored checkpoint and replicate from the beginning",
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}

	w := worker.NewWorker(cfg)
	if c.Bool("reset") {
		cfg.Logger.Infof("Removing checkpoint of %s", cfg.FeedID)
		if err := w.ResetCheckpoint(); err != nil {
			return err
		}
	}
	return w.Run(c.Context)
}

func buildConfig(c *cli.Context) (*config.ReplicatorConfiguration, error) {
	log, err := newLogger(c)
	if err != nil {
		return nil, err
	}

	cfg, err := config.NewReplicatorConfig(c.String("app-name"), c.String("database"), c.String("worker-id"))
	if err != nil {
		return nil, err
	}

	feedMode, err := config.ParseFeedMode(c.String("feed"))
	if err != nil {
		return nil, err
	}
	durability, err := config.ParseDurabilityMode(c.String("durability"))
	if err != nil {
		return nil, err
	}
	store, err := config.ParseCheckpointStore(c.String("checkpoint-store"))
	if err != nil {
		return nil, err
	}

	cfg.WithLogger(log).
		WithCouchDBURL(c.String("couchdb-url")).
		WithFeedMode(feedMode).
		WithHeartbeatMillis(c.Int("heartbeat-ms")).
		WithClickHouseAddr(c.String("clickhouse-addr")).
		WithClickHouseDatabase(c.String("clickhouse-database")).
		WithClickHouseAuth(c.String("clickhouse-username"), c.String("clickhouse-password")).
		WithWriteTimeoutMillis(c.Int("write-timeout-ms")).
		WithDurabilityMode(durability).
		WithBestEffortTimestamps(c.Bool("best-effort-timestamps")).
		WithBatchSize(c.Int("batch-size")).
		WithShutdownGraceMillis(c.Int("shutdown-grace-ms")).
		WithCheckpointStore(store).
		WithStateDir(c.String("state-dir")).
		WithSQLitePath(c.String("sqlite-path")).
		WithRegionName(c.String("region")).
		WithDynamoDBEndpoint(c.String("dynamodb-endpoint"))

	if c.IsSet("max-in-flight") {
		cfg.WithMaxInFlightEvents(c.Int("max-in-flight"))
	}
	if table := c.String("dynamodb-table"); table != "" {
		cfg.WithTableName(table)
	}

	mService, err := newMonitoringService(c, log)
	if err != nil {
		return nil, err
	}
	cfg.WithMonitoringService(mService)

	return cfg, nil
}

func newLogger(c *cli.Context) (logger.Logger, error) {
	format := strings.ToLower(c.String("log-format"))
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	lc := logger.Configuration{
		EnableConsole:     true,
		ConsoleJSONFormat: format == "json",
		ConsoleLevel:      c.String("log-level"),
		EnableFile:        c.String("log-file") != "",
		FileJSONFormat:    true,
		FileLevel:         c.String("log-level"),
		Filename:          c.String("log-file"),
	}

	switch strings.ToLower(c.String("log-backend")) {
	case "logrus":
		return logger.NewLogrusLoggerWithConfig(lc), nil
	case "zap":
		return zap.NewZapLoggerWithConfig(lc), nil
	case "zerolog":
		return zerolog.NewZerologLoggerWithConfig(lc), nil
	}
	return nil, fmt.Errorf("unknown log backend: %s", c.String("log-backend"))
}

func newMonitoringService(c *cli.Context, log logger.Logger) (metrics.MonitoringService, error) {
	switch strings.ToLower(c.String("metrics")) {
	case "none", "":
		return metrics.NoopMonitoringService{}, nil
	case "prometheus":
		return prometheus.NewMonitoringService(c.String("metrics-listen"), log), nil
	case "cloudwatch":
		return cloudwatch.NewMonitoringService(c.String("region"), nil, log), nil
	}
	return nil, fmt.Errorf("unknown metrics backend: %s", c.String("metrics"))
}
