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

package checkpoint

import (
	"errors"
	"math"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/matryer/try"

	"github.com/vmware/vmware-go-couchhouse/clientlibrary/config"
	par "github.com/vmware/vmware-go-couchhouse/clientlibrary/partition"
	"github.com/vmware/vmware-go-couchhouse/clientlibrary/utils"
	"github.com/vmware/vmware-go-couchhouse/logger"
)

const (
	// ErrInvalidDynamoDBSchema is returned when there are one or more fields missing from the table
	ErrInvalidDynamoDBSchema = "The DynamoDB schema is invalid and may need to be re-created"

	// NumMaxRetries is the max times of doing retry
	NumMaxRetries = 10
)

// ErrTableNotActive is returned by Init when a freshly created table does not become ACTIVE.
var ErrTableNotActive = errors.New("checkpoint table did not become active")

// DynamoCheckpoint implements the Checkpoint interface using DynamoDB as a backend
type DynamoCheckpoint struct {
	log                          logger.Logger
	TableName                    string
	checkpointTableReadCapacity  int64
	checkpointTableWriteCapacity int64

	svc     dynamodbiface.DynamoDBAPI
	cfg     *config.ReplicatorConfiguration
	Retries int

	// tableActivePollInterval is the pause between DescribeTable calls after creating the table.
	tableActivePollInterval time.Duration
}

func NewDynamoCheckpoint(cfg *config.ReplicatorConfiguration) *DynamoCheckpoint {
	return &DynamoCheckpoint{
		log:                          cfg.Logger,
		TableName:                    cfg.TableName,
		checkpointTableReadCapacity:  int64(cfg.InitialCheckpointTableReadCapacity),
		checkpointTableWriteCapacity: int64(cfg.InitialCheckpointTableWriteCapacity),
		cfg:                          cfg,
		Retries:                      NumMaxRetries,
		tableActivePollInterval:      time.Second,
	}
}

// WithDynamoDB is used to provide DynamoDB service
func (checkpointer *DynamoCheckpoint) WithDynamoDB(svc dynamodbiface.DynamoDBAPI) *DynamoCheckpoint {
	checkpointer.svc = svc
	return checkpointer
}

// Init initialises the DynamoDB Checkpoint and creates the table when missing
func (checkpointer *DynamoCheckpoint) Init() error {
	if checkpointer.svc == nil {
		checkpointer.log.Infof("Creating DynamoDB session")

		s, err := session.NewSession(&aws.Config{
			Region:      aws.String(checkpointer.cfg.RegionName),
			Endpoint:    aws.String(checkpointer.cfg.DynamoDBEndpoint),
			Credentials: checkpointer.cfg.DynamoDBCredentials,
			Retryer: client.DefaultRetryer{
				NumMaxRetries:    checkpointer.Retries,
				MinRetryDelay:    client.DefaultRetryerMinRetryDelay,
				MinThrottleDelay: client.DefaultRetryerMinThrottleDelay,
				MaxRetryDelay:    client.DefaultRetryerMaxRetryDelay,
				MaxThrottleDelay: client.DefaultRetryerMaxRetryDelay,
			},
		})
		if err != nil {
			return err
		}
		checkpointer.svc = dynamodb.New(s)
	}

	if checkpointer.doesTableExist() {
		return nil
	}
	if err := checkpointer.createTable(); err != nil {
		return err
	}
	return checkpointer.waitForTableActive()
}

// CheckpointSequence writes a checkpoint at the designated sequence ID
func (checkpointer *DynamoCheckpoint) CheckpointSequence(feed *par.FeedStatus) error {
	marshalledCheckpoint := map[string]*dynamodb.AttributeValue{
		FeedKeyKey: {
			S: aws.String(feed.ID),
		},
		SequenceNumberKey: {
			S: aws.String(feed.GetCheckpoint()),
		},
		UpdatedAtKey: {
			S: aws.String(time.Now().UTC().Format(time.RFC3339)),
		},
	}

	if owner := feed.GetOwner(); owner != "" {
		marshalledCheckpoint[OwnerKey] = &dynamodb.AttributeValue{S: aws.String(owner)}
	}

	return checkpointer.saveItem(marshalledCheckpoint)
}

// FetchCheckpoint retrieves the checkpoint for the given feed
func (checkpointer *DynamoCheckpoint) FetchCheckpoint(feed *par.FeedStatus) error {
	checkpoint, err := checkpointer.getItem(feed.ID)
	if err != nil {
		return err
	}

	sequenceID, ok := checkpoint[SequenceNumberKey]
	if !ok || sequenceID.S == nil {
		return ErrSequenceIDNotFound
	}
	checkpointer.log.Debugf("Retrieved checkpoint %s", aws.StringValue(sequenceID.S))
	feed.SetCheckpoint(aws.StringValue(sequenceID.S))

	return nil
}

// RemoveCheckpoint removes the checkpoint item of the feed
func (checkpointer *DynamoCheckpoint) RemoveCheckpoint(feedID string) error {
	err := checkpointer.removeItem(feedID)

	if err != nil {
		checkpointer.log.Errorf("Error in removing checkpoint for feed: %s, Error: %+v", feedID, err)
	} else {
		checkpointer.log.Infof("Checkpoint for feed: %s has been removed.", feedID)
	}

	return err
}

func (checkpointer *DynamoCheckpoint) Close() error {
	return nil
}

func (checkpointer *DynamoCheckpoint) createTable() error {
	checkpointer.log.Infof("Creating checkpoint table %s", checkpointer.TableName)
	input := &dynamodb.CreateTableInput{
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(FeedKeyKey),
				AttributeType: aws.String("S"),
			},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(FeedKeyKey),
				KeyType:       aws.String("HASH"),
			},
		},
		ProvisionedThroughput: &dynamodb.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(checkpointer.checkpointTableReadCapacity),
			WriteCapacityUnits: aws.Int64(checkpointer.checkpointTableWriteCapacity),
		},
		TableName: aws.String(checkpointer.TableName),
	}
	_, err := checkpointer.svc.CreateTable(input)
	if utils.AWSErrCode(err) == dynamodb.ErrCodeResourceInUseException {
		// created concurrently by another worker
		return nil
	}
	return err
}

func (checkpointer *DynamoCheckpoint) doesTableExist() bool {
	input := &dynamodb.DescribeTableInput{
		TableName: aws.String(checkpointer.TableName),
	}
	_, err := checkpointer.svc.DescribeTable(input)
	return err == nil
}

func (checkpointer *DynamoCheckpoint) waitForTableActive() error {
	return try.Do(func(attempt int) (bool, error) {
		out, err := checkpointer.svc.DescribeTable(&dynamodb.DescribeTableInput{
			TableName: aws.String(checkpointer.TableName),
		})
		if err == nil && out.Table != nil && aws.StringValue(out.Table.TableStatus) == dynamodb.TableStatusActive {
			return false, nil
		}
		if err == nil {
			err = ErrTableNotActive
		}
		retry := attempt < checkpointer.Retries
		if retry {
			time.Sleep(checkpointer.tableActivePollInterval)
		}
		return retry, err
	})
}

func (checkpointer *DynamoCheckpoint) saveItem(item map[string]*dynamodb.AttributeValue) error {
	return checkpointer.putItem(&dynamodb.PutItemInput{
		TableName: aws.String(checkpointer.TableName),
		Item:      item,
	})
}

func (checkpointer *DynamoCheckpoint) putItem(input *dynamodb.PutItemInput) error {
	return try.Do(func(attempt int) (bool, error) {
		_, err := checkpointer.svc.PutItem(input)
		if checkpointer.retryable(err, attempt) {
			// Backoff time as recommended by https://docs.aws.amazon.com/general/latest/gr/api-retries.html
			time.Sleep(time.Duration(math.Exp2(float64(attempt))*100) * time.Millisecond)
			return true, err
		}
		return false, err
	})
}

func (checkpointer *DynamoCheckpoint) getItem(feedID string) (map[string]*dynamodb.AttributeValue, error) {
	var item *dynamodb.GetItemOutput
	err := try.Do(func(attempt int) (bool, error) {
		var err error
		item, err = checkpointer.svc.GetItem(&dynamodb.GetItemInput{
			TableName: aws.String(checkpointer.TableName),
			Key: map[string]*dynamodb.AttributeValue{
				FeedKeyKey: {
					S: aws.String(feedID),
				},
			},
			ConsistentRead: aws.Bool(true),
		})
		if checkpointer.retryable(err, attempt) {
			time.Sleep(time.Duration(math.Exp2(float64(attempt))*100) * time.Millisecond)
			return true, err
		}
		return false, err
	})
	if err != nil || item == nil {
		return nil, err
	}
	return item.Item, nil
}

func (checkpointer *DynamoCheckpoint) removeItem(feedID string) error {
	_, err := checkpointer.svc.DeleteItem(&dynamodb.DeleteItemInput{
		TableName: aws.String(checkpointer.TableName),
		Key: map[string]*dynamodb.AttributeValue{
			FeedKeyKey: {
				S: aws.String(feedID),
			},
		},
	})
	return err
}

func (checkpointer *DynamoCheckpoint) retryable(err error, attempt int) bool {
	if err == nil || attempt >= checkpointer.Retries {
		return false
	}
	code := utils.AWSErrCode(err)
	return code == dynamodb.ErrCodeProvisionedThroughputExceededException ||
		code == dynamodb.ErrCodeInternalServerError
}
