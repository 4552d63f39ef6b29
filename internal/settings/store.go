package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/CZERTAINLY/herald/internal/model"
)

// debounce collapses the burst of events editors produce on a save.
const debounce = 100 * time.Millisecond

var ErrNoServices = errors.New("no services selected")

// Store holds the configuration for the lifetime of the process. It is
// safe for concurrent use.
type Store struct {
	path     string
	notifier model.Notifier

	mx  sync.RWMutex
	cfg model.Config
}

// Snapshot is a copy of the posting related configuration. It is not
// affected by later changes of the Store.
type Snapshot struct {
	MaxLength int
	Services  model.Services
	Registry  model.Registry
	Timeout   time.Duration
	Rate      int
}

func New(path string, cfg model.Config, notifier model.Notifier) *Store {
	return &Store{
		path:     path,
		notifier: notifier,
		cfg:      cfg.Clone(),
	}
}

// Open loads the store from the config file at path.
func Open(path string, notifier model.Notifier) (*Store, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	return New(path, cfg, notifier), nil
}

func load(path string) (model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	if err != nil {
		return model.Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func (s *Store) Path() string {
	return s.path
}

// Notifier returns the notifier given to New, which may be nil.
func (s *Store) Notifier() model.Notifier {
	return s.notifier
}

// Config returns a copy of the whole configuration.
func (s *Store) Config() model.Config {
	s.mx.RLock()
	defer s.mx.RUnlock()
	return s.cfg.Clone()
}

func (s *Store) Snapshot() Snapshot {
	s.mx.RLock()
	defer s.mx.RUnlock()
	// validated by model.LoadConfig or by the caller of New
	timeout, _ := s.cfg.ProcessTimeout()
	return Snapshot{
		MaxLength: s.cfg.MaxLength,
		Services:  slices.Clone(s.cfg.Services),
		Registry:  s.cfg.Commands.Clone(),
		Timeout:   timeout,
		Rate:      s.cfg.Rate(),
	}
}

// Configure replaces the active services by a comma separated list of
// service ids. Every id must be registered, otherwise the active services
// stay unchanged.
func (s *Store) Configure(ctx context.Context, list string) (model.Services, error) {
	services := model.ParseServices(list)
	if len(services) == 0 {
		return nil, ErrNoServices
	}

	s.mx.Lock()
	if err := services.Validate(s.cfg.Commands); err != nil {
		s.mx.Unlock()
		return nil, err
	}
	s.cfg.Services = slices.Clone(services)
	s.mx.Unlock()

	slog.DebugContext(ctx, "services configured", "services", []string(services))
	if s.notifier != nil {
		s.notifier.Notify(ctx, "Posting to: "+services.String())
	}
	return services, nil
}

// Save writes the configuration to the store path. The file is replaced
// atomically.
func (s *Store) Save() error {
	cfg := s.Config()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".herald-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	defer func() {
		_ = os.Remove(f.Name())
	}()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		_ = f.Close()
		return fmt.Errorf("storing configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("storing configuration: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", f.Name(), err)
	}
	if err := os.Rename(f.Name(), s.path); err != nil {
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

// Reload reads the config file again. An invalid file keeps the current
// configuration.
func (s *Store) Reload(ctx context.Context) error {
	cfg, err := load(s.path)
	if err != nil {
		return err
	}
	s.mx.Lock()
	s.cfg = cfg
	s.mx.Unlock()
	slog.InfoContext(ctx, "configuration reloaded", "path", s.path, "services", []string(cfg.Services))
	return nil
}

// Watch reloads the configuration whenever the config file changes, until
// ctx is canceled. The parent directory is watched, as editors tend to
// replace the file rather than writing into it.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	slog.DebugContext(ctx, "watching config", "path", s.path)

	target := filepath.Clean(s.path)
	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("config watcher closed")
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("config watcher closed")
			}
			slog.WarnContext(ctx, "config watcher", "error", err)
		case <-timer.C:
			if err := s.Reload(ctx); err != nil {
				slog.ErrorContext(ctx, "reloading config failed: keeping the current one", "error", err)
				for _, d := range model.CueErrDetails(errors.Unwrap(err)) {
					slog.ErrorContext(ctx, d.Message, d.Attr("detail"))
				}
			}
		}
	}
}
