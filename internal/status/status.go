// Package status persists per-query recovery state for the polling
// side. The orchestrator is the single writer for a query id; pollers
// only read.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
)

// State is the lifecycle state of a query.
type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// ErrNotFound is returned when a query id has no recorded state.
var ErrNotFound = errors.New("query not found")

// Consulta is the externally visible state of one recovery query.
type Consulta struct {
	ID        string          `json:"id"`
	State     State           `json:"state"`
	Progress  int             `json:"progress"`
	Message   string          `json:"message"`
	Results   json.RawMessage `json:"results,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store is the status contract the orchestrator writes through.
type Store interface {
	SetStatus(id string, state State, progress int, message string) error
	SaveResults(id string, results any) error
	Get(id string) (*Consulta, error)
	Close() error
}

// Config configures the status store.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // file path; empty = in-memory
}

// NewStore creates a status store. Disabled configuration yields a
// no-op store so callers never need nil checks.
func NewStore(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return noopStore{}, nil
	}
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open status store %s: %w", path, err)
	}
	return &buntStore{db: db}, nil
}

type buntStore struct {
	db *buntdb.DB
}

func key(id string) string { return "consulta:" + id }

// load reads the current row inside a transaction; a missing row yields
// a fresh one so the first SetStatus creates it.
func load(tx *buntdb.Tx, id string) (*Consulta, error) {
	raw, err := tx.Get(key(id))
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return &Consulta{ID: id}, nil
		}
		return nil, err
	}
	var c Consulta
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode status row %s: %w", id, err)
	}
	return &c, nil
}

func store(tx *buntdb.Tx, c *Consulta) error {
	c.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key(c.ID), string(data), nil)
	return err
}

func (s *buntStore) SetStatus(id string, state State, progress int, message string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		c, err := load(tx, id)
		if err != nil {
			return err
		}
		c.State = state
		c.Progress = progress
		c.Message = message
		return store(tx, c)
	})
}

func (s *buntStore) SaveResults(id string, results any) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results for %s: %w", id, err)
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		c, err := load(tx, id)
		if err != nil {
			return err
		}
		c.Results = data
		return store(tx, c)
	})
}

func (s *buntStore) Get(id string) (*Consulta, error) {
	var c *Consulta
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(key(id))
		if err != nil {
			if errors.Is(err, buntdb.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		c = &Consulta{}
		return json.Unmarshal([]byte(raw), c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *buntStore) Close() error {
	return s.db.Close()
}

// noopStore discards all writes.
type noopStore struct{}

func (noopStore) SetStatus(string, State, int, string) error { return nil }
func (noopStore) SaveResults(string, any) error              { return nil }
func (noopStore) Get(string) (*Consulta, error)              { return nil, ErrNotFound }
func (noopStore) Close() error                               { return nil }
