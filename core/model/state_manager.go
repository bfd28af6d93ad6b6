// Package model defines the estimator contracts and fitted-state helpers shared by
// every housestack learner and transformer.
package model

import (
	"sync"

	"github.com/YuminosukeSato/housestack/pkg/errors"
)

// StateManager tracks the fitted state of a model in a thread-safe manner.
// Exported fields are kept for gob encoding.
type StateManager struct {
	Fitted    bool
	NFeatures int
	NSamples  int

	mu sync.RWMutex
}

// NewStateManager returns an unfitted StateManager.
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted returns whether the model has been fitted.
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Fitted
}

// SetFitted marks the model as fitted.
func (s *StateManager) SetFitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = true
}

// Reset returns the state to unfitted.
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = false
	s.NFeatures = 0
	s.NSamples = 0
}

// SetDimensions records the shape seen during fitting.
func (s *StateManager) SetDimensions(nFeatures, nSamples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NFeatures = nFeatures
	s.NSamples = nSamples
}

// GetDimensions returns the shape seen during fitting.
func (s *StateManager) GetDimensions() (nFeatures, nSamples int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NFeatures, s.NSamples
}

// RequireFitted returns a NotFittedError naming the model and method when unfitted.
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.IsFitted() {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}

// RequireFeatures checks fitted state and that X has the fitted column count.
func (s *StateManager) RequireFeatures(modelName, method string, nCols int) error {
	if err := s.RequireFitted(modelName, method); err != nil {
		return err
	}
	nFeatures, _ := s.GetDimensions()
	if nCols != nFeatures {
		return errors.NewDimensionError(modelName+"."+method, nFeatures, nCols, 1)
	}
	return nil
}

// State is a snapshot of StateManager suitable for encoding.
type State struct {
	Fitted    bool `json:"fitted"`
	NFeatures int  `json:"n_features,omitempty"`
	NSamples  int  `json:"n_samples,omitempty"`
}

// GetState returns a snapshot of the current state.
func (s *StateManager) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{Fitted: s.Fitted, NFeatures: s.NFeatures, NSamples: s.NSamples}
}

// SetState restores a snapshot.
func (s *StateManager) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = state.Fitted
	s.NFeatures = state.NFeatures
	s.NSamples = state.NSamples
}
