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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	cwatch "github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/cloudwatch/cloudwatchiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmware/vmware-go-couchhouse/logger"
)

type mockCloudWatch struct {
	cloudwatchiface.CloudWatchAPI
	mu     sync.Mutex
	inputs []*cwatch.PutMetricDataInput
	err    error
}

func (m *mockCloudWatch) PutMetricData(input *cwatch.PutMetricDataInput) (*cwatch.PutMetricDataOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, input)
	return &cwatch.PutMetricDataOutput{}, m.err
}

func datum(input *cwatch.PutMetricDataInput, name string) *cwatch.MetricDatum {
	for _, d := range input.MetricData {
		if aws.StringValue(d.MetricName) == name {
			return d
		}
	}
	return nil
}

func TestFlushPublishesAndResets(t *testing.T) {
	svc := &mockCloudWatch{}
	cw := NewMonitoringServiceWithOptions("us-west-2", nil, logger.GetDefaultLogger(), time.Hour).WithCloudWatch(svc)
	require.NoError(t, cw.Init("couchhouse", "orders", "worker-1"))

	cw.IncrEventsProcessed("orders", 100)
	cw.IncrEventsProcessed("orders", 20)
	cw.IncrBatchesWritten("orders")
	cw.CheckpointAdvanced("orders")
	cw.RecordSinkWriteTime("orders", 10)
	cw.RecordSinkWriteTime("orders", 30)

	cw.flush()
	require.Len(t, svc.inputs, 1)
	input := svc.inputs[0]
	assert.Equal(t, "couchhouse", aws.StringValue(input.Namespace))
	assert.Equal(t, float64(120), aws.Float64Value(datum(input, "EventsProcessed").Value))
	assert.Equal(t, float64(1), aws.Float64Value(datum(input, "BatchesWritten").Value))

	writeTime := datum(input, "Sink.bulkInsert.Time").StatisticValues
	assert.Equal(t, float64(2), aws.Float64Value(writeTime.SampleCount))
	assert.Equal(t, float64(40), aws.Float64Value(writeTime.Sum))
	assert.Equal(t, float64(30), aws.Float64Value(writeTime.Maximum))
	assert.Equal(t, float64(10), aws.Float64Value(writeTime.Minimum))
	assert.Nil(t, datum(input, "Checkpointer.checkpoint.Time"))

	cw.flush()
	require.Len(t, svc.inputs, 2)
	assert.Equal(t, float64(0), aws.Float64Value(datum(svc.inputs[1], "EventsProcessed").Value))
}

func TestFlushKeepsDataOnError(t *testing.T) {
	svc := &mockCloudWatch{err: errors.New("throttled")}
	cw := NewMonitoringServiceWithOptions("us-west-2", nil, logger.GetDefaultLogger(), time.Hour).WithCloudWatch(svc)
	require.NoError(t, cw.Init("couchhouse", "orders", "worker-1"))

	cw.IncrEventsProcessed("orders", 5)
	cw.flush()

	svc.err = nil
	cw.IncrEventsProcessed("orders", 5)
	cw.flush()
	require.Len(t, svc.inputs, 2)
	assert.Equal(t, float64(10), aws.Float64Value(datum(svc.inputs[1], "EventsProcessed").Value))
}

func TestShutdownFlushes(t *testing.T) {
	svc := &mockCloudWatch{}
	cw := NewMonitoringServiceWithOptions("us-west-2", nil, logger.GetDefaultLogger(), time.Hour).WithCloudWatch(svc)
	require.NoError(t, cw.Init("couchhouse", "orders", "worker-1"))
	require.NoError(t, cw.Start())

	cw.IncrSinkWriteFailures("orders")
	cw.Shutdown()

	require.Len(t, svc.inputs, 1)
	assert.Equal(t, float64(1), aws.Float64Value(datum(svc.inputs[0], "SinkWriteFailures").Value))
}
