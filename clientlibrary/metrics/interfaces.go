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

package metrics

// MonitoringService publishes replication metrics, all labelled with the feed they belong to.
type MonitoringService interface {
	Init(appName, feedID, workerID string) error
	Start() error
	IncrEventsProcessed(feed string, count int)
	IncrBatchesWritten(feed string)
	IncrSinkWriteFailures(feed string)
	CheckpointAdvanced(feed string)
	RecordSinkWriteTime(feed string, millis float64)
	RecordCheckpointTime(feed string, millis float64)
	Shutdown()
}

// NoopMonitoringService implements MonitoringService by does nothing.
type NoopMonitoringService struct{}

func (NoopMonitoringService) Init(appName, feedID, workerID string) error { return nil }
func (NoopMonitoringService) Start() error                                { return nil }
func (NoopMonitoringService) Shutdown()                                   {}

func (NoopMonitoringService) IncrEventsProcessed(feed string, count int)        {}
func (NoopMonitoringService) IncrBatchesWritten(feed string)                    {}
func (NoopMonitoringService) IncrSinkWriteFailures(feed string)                 {}
func (NoopMonitoringService) CheckpointAdvanced(feed string)                    {}
func (NoopMonitoringService) RecordSinkWriteTime(feed string, millis float64)   {}
func (NoopMonitoringService) RecordCheckpointTime(feed string, millis float64) {}
