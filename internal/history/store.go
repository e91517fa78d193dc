// Package history keeps a persistent record of transfers.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/javanstorm/vmxfer/internal/transfer"
	"go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned when no transfer has the requested id.
	ErrNotFound = errors.New("history: transfer not found")
)

var (
	transfersBucket = []byte("transfers")
)

// Record is the stored form of a transfer.
type Record struct {
	ID          string    `json:"id"`
	Direction   string    `json:"direction"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Target      string    `json:"target,omitempty"`
	State       string    `json:"state"`
	JobID       string    `json:"job_id,omitempty"`
	Tracking    string    `json:"tracking"`
	Percent     int       `json:"percent"`
	OutcomeKind string    `json:"outcome_kind,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the transfer reached a terminal state.
func (r *Record) Finished() bool {
	s, err := transfer.ParseState(r.State)
	return err == nil && s.IsTerminal()
}

// FromStatus converts an engine snapshot.
func FromStatus(s transfer.Status) Record {
	r := Record{
		ID:          s.ID,
		Direction:   string(s.Direction),
		Source:      s.Source,
		Destination: s.Destination,
		Target:      s.Target,
		State:       s.State.String(),
		JobID:       s.JobID,
		Tracking:    s.Tracking,
		Percent:     s.Percent,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
	}
	if s.Failure != nil {
		r.OutcomeKind = s.Failure.Kind.String()
		r.Detail = s.Failure.Error()
	} else if s.State == transfer.StateSucceeded {
		r.OutcomeKind = "Success"
	}
	return r
}

// Store is a bbolt-backed transfer history.
type Store struct {
	db *bbolt.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	// Another vmxfer process may hold the lock; don't wait on it forever.
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(transfersBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create transfers bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Save inserts or replaces a record.
func (s *Store) Save(rec *Record) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(transfersBucket)

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}

		if err := b.Put([]byte(rec.ID), data); err != nil {
			return fmt.Errorf("put record: %w", err)
		}
		return nil
	})
}

// Record implements transfer.Recorder.
func (s *Store) Record(status transfer.Status) error {
	rec := FromStatus(status)
	return s.Save(&rec)
}

// Get returns one record.
func (s *Store) Get(id string) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(transfersBucket).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("unmarshal record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns records newest first. A positive limit caps the result.
func (s *Store) List(limit int) ([]Record, error) {
	var recs []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(transfersBucket).ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshal record %s: %w", k, err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].StartedAt.After(recs[j].StartedAt)
		}
		return recs[i].ID < recs[j].ID
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
