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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmware/vmware-go-couchhouse/clientlibrary/config"
	par "github.com/vmware/vmware-go-couchhouse/clientlibrary/partition"
	"github.com/vmware/vmware-go-couchhouse/logger"
)

const stateFilePrefix = "couchhouse_state_"

type fileState struct {
	LastSeq json.RawMessage `json:"lastSeq"`
}

// FileCheckpoint implements the Checkpoint interface with one JSON file per feed.
type FileCheckpoint struct {
	log logger.Logger
	Dir string
}

func NewFileCheckpoint(cfg *config.ReplicatorConfiguration) *FileCheckpoint {
	return &FileCheckpoint{
		log: cfg.Logger,
		Dir: cfg.StateDir,
	}
}

// Init makes sure the state directory exists.
func (checkpointer *FileCheckpoint) Init() error {
	return os.MkdirAll(checkpointer.Dir, 0o755)
}

// FetchCheckpoint reads {"lastSeq": ...} from the feed's state file.
func (checkpointer *FileCheckpoint) FetchCheckpoint(feed *par.FeedStatus) error {
	path := checkpointer.Path(feed.ID)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrSequenceIDNotFound
	}
	if err != nil {
		return err
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return ErrInvalidCheckpoint{location: path, cause: err}
	}
	seq, err := decodeSequence(state.LastSeq)
	if err != nil {
		return ErrInvalidCheckpoint{location: path, cause: err}
	}
	if seq == "" {
		return ErrSequenceIDNotFound
	}

	checkpointer.log.Debugf("Retrieved checkpoint %s from %s", seq, path)
	feed.SetCheckpoint(seq)
	return nil
}

// CheckpointSequence replaces the state file atomically: the new content is written and synced
// to a temporary file which is then renamed over the old one.
func (checkpointer *FileCheckpoint) CheckpointSequence(feed *par.FeedStatus) error {
	seq, err := json.Marshal(feed.GetCheckpoint())
	if err != nil {
		return err
	}
	data, err := json.Marshal(fileState{LastSeq: seq})
	if err != nil {
		return err
	}

	path := checkpointer.Path(feed.ID)
	tmp, err := os.CreateTemp(checkpointer.Dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// RemoveCheckpoint deletes the feed's state file.
func (checkpointer *FileCheckpoint) RemoveCheckpoint(feedID string) error {
	err := os.Remove(checkpointer.Path(feedID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		checkpointer.log.Errorf("Error in removing checkpoint for feed: %s, Error: %+v", feedID, err)
		return err
	}
	checkpointer.log.Infof("Checkpoint for feed: %s has been removed.", feedID)
	return nil
}

func (checkpointer *FileCheckpoint) Close() error {
	return nil
}

// Path returns the state file of a feed.
func (checkpointer *FileCheckpoint) Path(feedID string) string {
	return filepath.Join(checkpointer.Dir, StateFileName(feedID))
}

// StateFileName maps a feed to couchhouse_state_<feed>.json. Characters outside [A-Za-z0-9_-]
// are replaced by '_' and a hash of the original name is appended so distinct feeds never
// share a file.
func StateFileName(feedID string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, feedID)

	if sanitized != feedID {
		sum := sha256.Sum256([]byte(feedID))
		sanitized += "-" + hex.EncodeToString(sum[:4])
	}
	return stateFilePrefix + sanitized + ".json"
}

// decodeSequence accepts string sequences as well as the numeric ones of older CouchDB versions.
func decodeSequence(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("lastSeq is neither a string nor a number: %s", string(raw))
	}
	return n.String(), nil
}
