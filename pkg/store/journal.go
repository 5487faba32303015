// Package store is the on-disk trial journal. Sessions with auto_save
// write every frozen trial here as it completes, so the data of an
// interrupted session can be recovered.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cgast/vxcore/pkg/session"
	"github.com/cgast/vxcore/pkg/trial"
)

// Bucket names.
const (
	BucketSessions = "sessions" // session id -> Metadata JSON
	BucketTrials   = "trials"   // session id -> nested bucket of trial number -> Result JSON
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Journal is a bbolt-backed implementation of session.Journal.
type Journal struct {
	db *bolt.DB
	mu sync.RWMutex
}

// Open opens or creates the journal at path.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{BucketSessions, BucketTrials} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &Journal{db: db}, nil
}

// PutSession stores or replaces session metadata.
func (j *Journal) PutSession(m session.Metadata) error {
	if m.ID == "" {
		return errors.New("session metadata has no id")
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket([]byte(BucketSessions)), m.ID, m)
	})
}

// AppendTrial stores a frozen trial result under its session.
func (j *Journal) AppendTrial(sessionID string, r trial.Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(BucketSessions)).Get([]byte(sessionID)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		b, err := tx.Bucket([]byte(BucketTrials)).CreateBucketIfNotExists([]byte(sessionID))
		if err != nil {
			return fmt.Errorf("create trial bucket: %w", err)
		}
		return putJSON(b, trialKey(r.Trial), r)
	})
}

// MarkStatus updates the status of a session. reason is stored for
// aborted sessions.
func (j *Journal) MarkStatus(sessionID string, status session.Status, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(BucketSessions))
		var m session.Metadata
		if err := getJSON(b, sessionID, &m); err != nil {
			return err
		}
		m.Status = status
		m.Error = reason
		if status != session.StatusRunning {
			m.Finished = time.Now()
		}
		return putJSON(b, sessionID, m)
	})
}

// Session returns the metadata of one session.
func (j *Journal) Session(sessionID string) (session.Metadata, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var m session.Metadata
	err := j.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket([]byte(BucketSessions)), sessionID, &m)
	})
	return m, err
}

// Sessions lists all sessions, oldest first.
func (j *Journal) Sessions() ([]session.Metadata, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var list []session.Metadata
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BucketSessions)).ForEach(func(k, v []byte) error {
			var m session.Metadata
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("unmarshal session %s: %w", string(k), err)
			}
			list = append(list, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(a, b int) bool { return list[a].Started.Before(list[b].Started) })
	return list, nil
}

// Trials returns the journaled results of a session in trial order.
func (j *Journal) Trials(sessionID string) ([]trial.Result, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var results []trial.Result
	err := j.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(BucketSessions)).Get([]byte(sessionID)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
		}
		b := tx.Bucket([]byte(BucketTrials)).Bucket([]byte(sessionID))
		if b == nil {
			return nil
		}
		// Zero-padded keys iterate in trial order.
		return b.ForEach(func(k, v []byte) error {
			var r trial.Result
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshal trial %s: %w", string(k), err)
			}
			results = append(results, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Record assembles a session record from the journal, e.g. to export
// the completed trials of an aborted session.
func (j *Journal) Record(sessionID string) (session.Record, error) {
	m, err := j.Session(sessionID)
	if err != nil {
		return session.Record{}, err
	}
	results, err := j.Trials(sessionID)
	if err != nil {
		return session.Record{}, err
	}
	return session.Record{Meta: m, Results: results}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func trialKey(n int) string {
	return fmt.Sprintf("%06d", n)
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

func getJSON(b *bolt.Bucket, key string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return json.Unmarshal(data, v)
}
