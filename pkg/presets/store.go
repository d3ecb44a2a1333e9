package presets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var (
	// ErrPresetNotFound is returned when a preset id is unknown.
	ErrPresetNotFound = errors.New("preset not found")

	// ErrInvalidPreset is returned when a preset fails validation.
	ErrInvalidPreset = errors.New("invalid preset")
)

// NotFoundError names the missing preset.
type NotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("preset %q not found", e.ID)
}

// Is implements error matching for errors.Is().
func (e *NotFoundError) Is(target error) bool {
	return target == ErrPresetNotFound
}

// InvalidError describes why a preset was rejected.
type InvalidError struct {
	Reason string
}

// Error implements the error interface.
func (e *InvalidError) Error() string {
	return "invalid preset: " + e.Reason
}

// Is implements error matching for errors.Is().
func (e *InvalidError) Is(target error) bool {
	return target == ErrInvalidPreset
}

// Preset is a named weight table that can be applied to the pool.
type Preset struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Weights     map[string]int `json:"weights" yaml:"weights"`
	CreatedBy   string         `json:"created_by" yaml:"created_by"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
}

func (p *Preset) clone() *Preset {
	c := *p
	c.Weights = maps.Clone(p.Weights)
	return &c
}

// Validate checks that the preset is usable.
func (p *Preset) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return &InvalidError{Reason: "name is required"}
	}
	if len(p.Weights) == 0 {
		return &InvalidError{Reason: "at least one weight is required"}
	}
	for id, w := range p.Weights {
		if id == "" {
			return &InvalidError{Reason: "key id is required"}
		}
		if w < 0 {
			return &InvalidError{Reason: fmt.Sprintf("weight for %q must be non-negative", id)}
		}
	}
	return nil
}

type fileFormat struct {
	Presets []*Preset `yaml:"presets"`
}

// Store keeps presets in memory and, when a path is set, mirrors them to a
// YAML file after every change.
type Store struct {
	mu      sync.RWMutex
	path    string
	presets map[string]*Preset
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore opens a store. An empty path keeps presets in memory only; an
// existing file is loaded.
func NewStore(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:    path,
		presets: make(map[string]*Preset),
		now:     time.Now,
		logger:  slog.Default().With("component", "presets"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file %q: %w", path, err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse presets file %q: %w", path, err)
	}
	for _, p := range f.Presets {
		if p.ID == "" {
			return nil, fmt.Errorf("presets file %q: preset %q has no id", path, p.Name)
		}
		s.presets[p.ID] = p
	}

	s.logger.Info("presets loaded", "path", path, "count", len(s.presets))
	return s, nil
}

// Create validates p, assigns its id and creation time, and stores it.
func (s *Store) Create(ctx context.Context, p Preset) (*Preset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	p.ID = uuid.NewString()
	p.CreatedAt = s.now().UTC()
	stored := p.clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.presets[stored.ID] = stored
	if err := s.persistLocked(); err != nil {
		delete(s.presets, stored.ID)
		return nil, err
	}

	s.logger.Info("preset created", "preset_id", stored.ID, "name", stored.Name, "keys", len(stored.Weights))
	return stored.clone(), nil
}

// Get returns the preset with id.
func (s *Store) Get(_ context.Context, id string) (*Preset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.presets[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return p.clone(), nil
}

// List returns every preset ordered by name, then id.
func (s *Store) List(_ context.Context) ([]*Preset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(), nil
}

// Delete removes the preset with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.presets[id]
	if !ok {
		return &NotFoundError{ID: id}
	}
	delete(s.presets, id)
	if err := s.persistLocked(); err != nil {
		s.presets[id] = p
		return err
	}

	s.logger.Info("preset deleted", "preset_id", id)
	return nil
}

func (s *Store) sortedLocked() []*Preset {
	out := make([]*Preset, 0, len(s.presets))
	for _, p := range s.presets {
		out = append(out, p.clone())
	}
	slices.SortFunc(out, func(a, b *Preset) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// persistLocked writes every preset to a temporary file and renames it
// over the target.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := yaml.Marshal(fileFormat{Presets: s.sortedLocked()})
	if err != nil {
		return fmt.Errorf("failed to encode presets: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create presets directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".presets-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write presets: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write presets: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write presets: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace presets file: %w", err)
	}
	return nil
}
