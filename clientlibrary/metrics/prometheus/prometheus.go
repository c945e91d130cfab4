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

package prometheus

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vmware/vmware-go-couchhouse/logger"
)

// MonitoringService publishes replication metrics to Prometheus.
type MonitoringService struct {
	listenAddress string
	namespace     string
	workerID      string
	logger        logger.Logger
	registry      *prom.Registry
	server        *http.Server

	processedEvents    *prom.CounterVec
	batchesWritten     *prom.CounterVec
	sinkWriteFailures  *prom.CounterVec
	checkpoints        *prom.CounterVec
	lastCheckpointTime *prom.GaugeVec
	sinkWriteTime      *prom.HistogramVec
	checkpointTime     *prom.HistogramVec
}

// NewMonitoringService returns a Monitoring service publishing metrics to Prometheus.
func NewMonitoringService(listenAddress string, logger logger.Logger) *MonitoringService {
	return &MonitoringService{
		listenAddress: listenAddress,
		logger:        logger,
		registry:      prom.NewRegistry(),
	}
}

// Registry exposes the collectors, e.g. to gather them in tests.
func (p *MonitoringService) Registry() *prom.Registry {
	return p.registry
}

func (p *MonitoringService) Init(appName, feedID, workerID string) error {
	p.namespace = sanitizeName(appName)
	p.workerID = workerID

	p.processedEvents = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_processed_events`,
		Help: "Number of change events written to the sink",
	}, []string{"feed"})
	p.batchesWritten = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_batches_written`,
		Help: "Number of batches written to the sink",
	}, []string{"feed"})
	p.sinkWriteFailures = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_sink_write_failures`,
		Help: "Number of failed bulk inserts",
	}, []string{"feed"})
	p.checkpoints = prom.NewCounterVec(prom.CounterOpts{
		Name: p.namespace + `_checkpoints`,
		Help: "Number of checkpoints stored",
	}, []string{"feed", "workerID"})
	p.lastCheckpointTime = prom.NewGaugeVec(prom.GaugeOpts{
		Name: p.namespace + `_last_checkpoint_timestamp_seconds`,
		Help: "Unix time of the last stored checkpoint",
	}, []string{"feed", "workerID"})
	p.sinkWriteTime = prom.NewHistogramVec(prom.HistogramOpts{
		Name: p.namespace + `_sink_write_duration_seconds`,
		Help: "The time taken to write a batch to the sink",
	}, []string{"feed"})
	p.checkpointTime = prom.NewHistogramVec(prom.HistogramOpts{
		Name: p.namespace + `_checkpoint_duration_seconds`,
		Help: "The time taken to store a checkpoint",
	}, []string{"feed"})

	metrics := []prom.Collector{
		p.processedEvents,
		p.batchesWritten,
		p.sinkWriteFailures,
		p.checkpoints,
		p.lastCheckpointTime,
		p.sinkWriteTime,
		p.checkpointTime,
	}
	for _, metric := range metrics {
		err := p.registry.Register(metric)
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *MonitoringService) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	p.server = &http.Server{
		Addr:              p.listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		p.logger.Infof("Starting Prometheus listener on %s", p.listenAddress)
		err := p.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Errorf("Error starting Prometheus metrics endpoint. %+v", err)
		}
		p.logger.Infof("Stopped metrics server")
	}()

	return nil
}

func (p *MonitoringService) Shutdown() {
	if p.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.server.Shutdown(ctx); err != nil {
		p.logger.Warnf("Error stopping metrics server: %+v", err)
	}
}

func (p *MonitoringService) IncrEventsProcessed(feed string, count int) {
	p.processedEvents.With(prom.Labels{"feed": feed}).Add(float64(count))
}

func (p *MonitoringService) IncrBatchesWritten(feed string) {
	p.batchesWritten.With(prom.Labels{"feed": feed}).Inc()
}

func (p *MonitoringService) IncrSinkWriteFailures(feed string) {
	p.sinkWriteFailures.With(prom.Labels{"feed": feed}).Inc()
}

func (p *MonitoringService) CheckpointAdvanced(feed string) {
	labels := prom.Labels{"feed": feed, "workerID": p.workerID}
	p.checkpoints.With(labels).Inc()
	p.lastCheckpointTime.With(labels).SetToCurrentTime()
}

func (p *MonitoringService) RecordSinkWriteTime(feed string, millis float64) {
	p.sinkWriteTime.With(prom.Labels{"feed": feed}).Observe(millis / 1000)
}

func (p *MonitoringService) RecordCheckpointTime(feed string, millis float64) {
	p.checkpointTime.With(prom.Labels{"feed": feed}).Observe(millis / 1000)
}

// sanitizeName makes appName usable as a metric name prefix.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}
