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

package utils

import (
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/stretchr/testify/assert"
)

func TestMustNewUUID(t *testing.T) {
	a := MustNewUUID()
	b := MustNewUUID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestAWSErrCode(t *testing.T) {
	assert.Equal(t, "ResourceNotFoundException", AWSErrCode(awserr.New("ResourceNotFoundException", "gone", nil)))
	assert.Equal(t, "", AWSErrCode(errors.New("plain")))
	assert.Equal(t, "", AWSErrCode(nil))
}

func TestSequencePrefix(t *testing.T) {
	assert.Equal(t, "0", SequencePrefix("0"))

	seq := "1234-g1AAAAFTeJzLYWBgYMlgTmFQSElKzi9KdUhJMtRLSizSS0nNLSrVS87JL01JzCvRy0stSgQqYcpjAZIMD4DUfyDISmRgoMXSg"
	assert.Equal(t, SequencePrefixLength, len(SequencePrefix(seq)))
	assert.True(t, strings.HasPrefix(seq, SequencePrefix(seq)))
}
