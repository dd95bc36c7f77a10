// Package store owns the current model. Readers load an immutable *ml.Model
// through an atomic pointer; writers are serialized and persist before
// publishing.
package store

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"learnask/ml"
)

var ErrNoModel = errors.New("model not found")

// ChangeKind says why the current model changed.
type ChangeKind string

const (
	Trained  ChangeKind = "model_trained"
	Reloaded ChangeKind = "model_reloaded"
)

// Listener is called after a model has been published.
type Listener func(model *ml.Model, kind ChangeKind)

type Store struct {
	path   string
	logger *zap.Logger

	current atomic.Pointer[ml.Model]

	mu        sync.Mutex
	listeners []Listener
}

// New returns an empty store. An empty path keeps models in memory only.
func New(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Open loads a model left on disk by an earlier run. A missing file is not
// an error.
func (s *Store) Open() error {
	if s.path == "" {
		return nil
	}
	model, err := ml.LoadModel(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open model: %w", err)
	}
	s.mu.Lock()
	s.current.Store(model)
	s.mu.Unlock()
	s.logger.Info("loaded persisted model", zap.String("path", s.path), zap.String("model_id", model.ID))
	return nil
}

// Current returns the published model or ErrNoModel.
func (s *Store) Current() (*ml.Model, error) {
	model := s.current.Load()
	if model == nil {
		return nil, ErrNoModel
	}
	return model, nil
}

// Swap persists model and makes it current. The previous model stays
// current if persisting fails.
func (s *Store) Swap(model *ml.Model) error {
	if model == nil {
		return errors.New("nil model")
	}
	s.mu.Lock()
	if s.path != "" {
		if err := model.Save(s.path); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("persist model: %w", err)
		}
	}
	s.current.Store(model)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	s.notify(listeners, model, Trained)
	return nil
}

// Subscribe registers fn for every later change.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// reload publishes the model on disk if it differs from the current one.
// The file is read under the writer lock so a concurrent Swap cannot be
// overtaken by an older file.
func (s *Store) reload() error {
	s.mu.Lock()
	model, err := ml.LoadModel(s.path)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if cur := s.current.Load(); cur != nil && cur.ID == model.ID {
		s.mu.Unlock()
		return nil
	}
	s.current.Store(model)
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	s.logger.Info("reloaded model from disk", zap.String("path", s.path), zap.String("model_id", model.ID))
	s.notify(listeners, model, Reloaded)
	return nil
}

func (s *Store) notify(listeners []Listener, model *ml.Model, kind ChangeKind) {
	for _, fn := range listeners {
		fn(model, kind)
	}
}
