package jobs

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/Aman-CERP/ragcore/internal/errors"
)

// MemoryStore keeps jobs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// Verify interface implementation at compile time
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Put(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, errors.NotFound("job", id)
	}
	return job.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Job, error) {
	s.mu.RLock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	s.mu.RUnlock()

	sortJobs(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// JobsFileName is the bbolt database created in the data directory for
// durable jobs.
const JobsFileName = "jobs.db"

var bucketJobs = []byte("jobs")

// bboltOpenTimeout bounds the wait for another process's file lock on the
// job database.
const bboltOpenTimeout = time.Second

// BoltStore persists jobs as JSON in a bbolt database.
type BoltStore struct {
	db *bbolt.DB
}

// Verify interface implementation at compile time
var _ Store = (*BoltStore)(nil)

// NewBoltStore opens or creates the job database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: bboltOpenTimeout})
	if err != nil {
		return nil, errors.StoreUnavailable(fmt.Sprintf("open job database %s", path), err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketJobs)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.StoreUnavailable("create jobs bucket", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Put(_ context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.InternalError("marshal job", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketJobs).Put([]byte(job.ID), data)
	})
	if err != nil {
		return errors.StoreUnavailable("write job", err)
	}
	return nil
}

func (s *BoltStore) Get(_ context.Context, id string) (*Job, error) {
	var job *Job
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketJobs).Get([]byte(id))
		if data == nil {
			return nil
		}
		job = &Job{}
		return json.Unmarshal(data, job)
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeCorruptIndex, "read job", err)
	}
	if job == nil {
		return nil, errors.NotFound("job", id)
	}
	return job, nil
}

func (s *BoltStore) List(_ context.Context) ([]*Job, error) {
	var out []*Job
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			job := &Job{}
			if err := json.Unmarshal(v, job); err != nil {
				return fmt.Errorf("job %s: %w", k, err)
			}
			out = append(out, job)
			return nil
		})
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeCorruptIndex, "list jobs", err)
	}

	sortJobs(out)
	return out, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func sortJobs(jobs []*Job) {
	slices.SortFunc(jobs, func(a, b *Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
