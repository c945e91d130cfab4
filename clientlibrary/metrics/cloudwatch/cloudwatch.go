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

package cloudwatch

import (
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	cwatch "github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"

	"github.com/vmware/vmware-go-couchhouse/logger"
)

// DefaultCloudwatchMetricsBufferDuration Buffer metrics for at most this long before publishing to CloudWatch.
const DefaultCloudwatchMetricsBufferDuration = 10 * time.Second

// MonitoringService publishes replication metrics to CloudWatch, aggregated per flush interval.
type MonitoringService struct {
	appName     string
	feedID      string
	workerID    string
	region      string
	credentials *credentials.Credentials
	logger      logger.Logger

	// control how often to publish to CloudWatch
	bufferDuration time.Duration

	stop         chan struct{}
	waitGroup    *sync.WaitGroup
	svc          cloudwatchiface.CloudWatchAPI
	feedMetrics  map[string]*cloudWatchMetrics
	feedMetricsM sync.Mutex
}

type cloudWatchMetrics struct {
	sync.Mutex

	processedEvents   int64
	batchesWritten    int64
	sinkWriteFailures int64
	checkpoints       int64
	sinkWriteTime     []float64
	checkpointTime    []float64
}

// NewMonitoringService returns a Monitoring service publishing metrics to CloudWatch.
func NewMonitoringService(region string, creds *credentials.Credentials, logger logger.Logger) *MonitoringService {
	return NewMonitoringServiceWithOptions(region, creds, logger, DefaultCloudwatchMetricsBufferDuration)
}

// NewMonitoringServiceWithOptions returns a Monitoring service publishing metrics to
// CloudWatch with the provided credentials, buffering duration and logger.
func NewMonitoringServiceWithOptions(region string, creds *credentials.Credentials, logger logger.Logger, bufferDur time.Duration) *MonitoringService {
	return &MonitoringService{
		region:         region,
		credentials:    creds,
		logger:         logger,
		bufferDuration: bufferDur,
	}
}

// WithCloudWatch is used to provide CloudWatch service
func (cw *MonitoringService) WithCloudWatch(svc cloudwatchiface.CloudWatchAPI) *MonitoringService {
	cw.svc = svc
	return cw
}

func (cw *MonitoringService) Init(appName, feedID, workerID string) error {
	cw.appName = appName
	cw.feedID = feedID
	cw.workerID = workerID

	if cw.svc == nil {
		cfg := &aws.Config{Region: aws.String(cw.region)}
		cfg.Credentials = cw.credentials
		s, err := session.NewSession(cfg)
		if err != nil {
			cw.logger.Errorf("Error in creating session for cloudwatch. %+v", err)
			return err
		}
		cw.svc = cwatch.New(s)
	}

	cw.feedMetrics = make(map[string]*cloudWatchMetrics)
	cw.stop = make(chan struct{})
	cw.waitGroup = &sync.WaitGroup{}

	return nil
}

func (cw *MonitoringService) Start() error {
	cw.waitGroup.Add(1)
	// entering eventloop for sending metrics to CloudWatch
	go cw.eventloop()
	return nil
}

// Shutdown stops the event loop after publishing what has been buffered.
func (cw *MonitoringService) Shutdown() {
	cw.logger.Infof("Shutting down cloudwatch metrics system...")
	close(cw.stop)
	cw.waitGroup.Wait()
	cw.flush()
	cw.logger.Infof("Cloudwatch metrics system has been shutdown.")
}

// Start daemon to flush metrics periodically
func (cw *MonitoringService) eventloop() {
	defer cw.waitGroup.Done()

	ticker := time.NewTicker(cw.bufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cw.flush()
		case <-cw.stop:
			cw.logger.Infof("Shutting down monitoring system")
			return
		}
	}
}

func (cw *MonitoringService) flushFeed(feed string, metric *cloudWatchMetrics) {
	metric.Lock()
	defaultDimensions := []*cwatch.Dimension{
		{
			Name:  aws.String("Feed"),
			Value: aws.String(feed),
		},
	}
	workerDimensions := []*cwatch.Dimension{
		{
			Name:  aws.String("Feed"),
			Value: aws.String(feed),
		},
		{
			Name:  aws.String("WorkerID"),
			Value: aws.String(cw.workerID),
		},
	}
	metricTimestamp := time.Now()

	data := []*cwatch.MetricDatum{
		{
			Dimensions: defaultDimensions,
			MetricName: aws.String("EventsProcessed"),
			Unit:       aws.String("Count"),
			Timestamp:  &metricTimestamp,
			Value:      aws.Float64(float64(metric.processedEvents)),
		},
		{
			Dimensions: defaultDimensions,
			MetricName: aws.String("BatchesWritten"),
			Unit:       aws.String("Count"),
			Timestamp:  &metricTimestamp,
			Value:      aws.Float64(float64(metric.batchesWritten)),
		},
		{
			Dimensions: defaultDimensions,
			MetricName: aws.String("SinkWriteFailures"),
			Unit:       aws.String("Count"),
			Timestamp:  &metricTimestamp,
			Value:      aws.Float64(float64(metric.sinkWriteFailures)),
		},
		{
			Dimensions: workerDimensions,
			MetricName: aws.String("Checkpoints"),
			Unit:       aws.String("Count"),
			Timestamp:  &metricTimestamp,
			Value:      aws.Float64(float64(metric.checkpoints)),
		},
	}

	if len(metric.sinkWriteTime) > 0 {
		data = append(data, &cwatch.MetricDatum{
			Dimensions: defaultDimensions,
			MetricName: aws.String("Sink.bulkInsert.Time"),
			Unit:       aws.String("Milliseconds"),
			Timestamp:  &metricTimestamp,
			StatisticValues: &cwatch.StatisticSet{
				SampleCount: aws.Float64(float64(len(metric.sinkWriteTime))),
				Sum:         sumFloat64(metric.sinkWriteTime),
				Maximum:     maxFloat64(metric.sinkWriteTime),
				Minimum:     minFloat64(metric.sinkWriteTime),
			},
		})
	}

	if len(metric.checkpointTime) > 0 {
		data = append(data, &cwatch.MetricDatum{
			Dimensions: defaultDimensions,
			MetricName: aws.String("Checkpointer.checkpoint.Time"),
			Unit:       aws.String("Milliseconds"),
			Timestamp:  &metricTimestamp,
			StatisticValues: &cwatch.StatisticSet{
				SampleCount: aws.Float64(float64(len(metric.checkpointTime))),
				Sum:         sumFloat64(metric.checkpointTime),
				Maximum:     maxFloat64(metric.checkpointTime),
				Minimum:     minFloat64(metric.checkpointTime),
			},
		})
	}

	// Publish metrics data to cloud watch
	_, err := cw.svc.PutMetricData(&cwatch.PutMetricDataInput{
		Namespace:  aws.String(cw.appName),
		MetricData: data,
	})

	if err == nil {
		metric.processedEvents = 0
		metric.batchesWritten = 0
		metric.sinkWriteFailures = 0
		metric.checkpoints = 0
		metric.sinkWriteTime = []float64{}
		metric.checkpointTime = []float64{}
	} else {
		cw.logger.Errorf("Error in publishing cloudwatch metrics. Error: %+v", err)
	}

	metric.Unlock()
}

func (cw *MonitoringService) flush() {
	cw.logger.Debugf("Flushing metrics data. Feed: %s, Worker: %s", cw.feedID, cw.workerID)

	cw.feedMetricsM.Lock()
	feeds := make(map[string]*cloudWatchMetrics, len(cw.feedMetrics))
	for feed, metric := range cw.feedMetrics {
		feeds[feed] = metric
	}
	cw.feedMetricsM.Unlock()

	for feed, metric := range feeds {
		cw.flushFeed(feed, metric)
	}
}

func (cw *MonitoringService) getOrCreatePerFeedMetrics(feed string) *cloudWatchMetrics {
	cw.feedMetricsM.Lock()
	defer cw.feedMetricsM.Unlock()

	m, ok := cw.feedMetrics[feed]
	if !ok {
		m = &cloudWatchMetrics{}
		cw.feedMetrics[feed] = m
	}
	return m
}

func (cw *MonitoringService) IncrEventsProcessed(feed string, count int) {
	m := cw.getOrCreatePerFeedMetrics(feed)
	m.Lock()
	defer m.Unlock()
	m.processedEvents += int64(count)
}

func (cw *MonitoringService) IncrBatchesWritten(feed string) {
	m := cw.getOrCreatePerFeedMetrics(feed)
	m.Lock()
	defer m.Unlock()
	m.batchesWritten++
}

func (cw *MonitoringService) IncrSinkWriteFailures(feed string) {
	m := cw.getOrCreatePerFeedMetrics(feed)
	m.Lock()
	defer m.Unlock()
	m.sinkWriteFailures++
}

func (cw *MonitoringService) CheckpointAdvanced(feed string) {
	m := cw.getOrCreatePerFeedMetrics(feed)
	m.Lock()
	defer m.Unlock()
	m.checkpoints++
}

func (cw *MonitoringService) RecordSinkWriteTime(feed string, millis float64) {
	m := cw.getOrCreatePerFeedMetrics(feed)
	m.Lock()
	defer m.Unlock()
	m.sinkWriteTime = append(m.sinkWriteTime, millis)
}

func (cw *MonitoringService) RecordCheckpointTime(feed string, millis float64) {
	m := cw.getOrCreatePerFeedMetrics(feed)
	m.Lock()
	defer m.Unlock()
	m.checkpointTime = append(m.checkpointTime, millis)
}

func sumFloat64(slice []float64) *float64 {
	sum := float64(0)
	for _, num := range slice {
		sum += num
	}
	return &sum
}

func maxFloat64(slice []float64) *float64 {
	if len(slice) < 1 {
		return aws.Float64(0)
	}
	max := slice[0]
	for _, num := range slice {
		if num > max {
			max = num
		}
	}
	return &max
}

func minFloat64(slice []float64) *float64 {
	if len(slice) < 1 {
		return aws.Float64(0)
	}
	min := slice[0]
	for _, num := range slice {
		if num < min {
			min = num
		}
	}
	return &min
}
