// Package archive keeps closed applications, with their milestones and
// events, in a bbolt file once they leave the live database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"bountyline/internal/domain"
)

var applicationsBucket = []byte("applications")

// Record is one archived application.
type Record struct {
	Application domain.GrantApplication      `json:"application"`
	Milestones  []domain.MilestoneSubmission `json:"milestones,omitempty"`
	Events      []domain.Event               `json:"events,omitempty"`
	ArchivedAt  string                       `json:"archived_at"`
}

type Store struct {
	db *bbolt.DB
}

// Open creates the archive file and its bucket if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(applicationsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Zero-padded ids keep keys of one bounty contiguous and in numeric order.
func bountyPrefix(bounty domain.BountyID) []byte {
	return []byte(fmt.Sprintf("app/%020d/", bounty))
}

func key(bounty domain.BountyID, app domain.ApplicationID) []byte {
	return append(bountyPrefix(bounty), []byte(fmt.Sprintf("%020d", app))...)
}

// Put stores a record, replacing any earlier copy of the same application.
func (s *Store) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(applicationsBucket).Put(key(rec.Application.BountyID, rec.Application.ID), data)
	})
}

func (s *Store) Get(ctx context.Context, bounty domain.BountyID, app domain.ApplicationID) (Record, error) {
	var rec Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(applicationsBucket).Get(key(bounty, app))
		if val == nil {
			return fmt.Errorf("archived application %d/%d: %w", bounty, app, domain.ErrNotFound)
		}
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

// ListApplications prefix-scans the records of one bounty.
func (s *Store) ListApplications(ctx context.Context, bounty domain.BountyID) ([]Record, error) {
	var res []Record
	prefix := bountyPrefix(bounty)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(applicationsBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			res = append(res, rec)
		}
		return nil
	})
	return res, err
}

// Count returns the number of archived applications.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(applicationsBucket).Stats().KeyN
		return nil
	})
	return n, err
}
