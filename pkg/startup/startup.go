// Package startup brings up backing services in dependency order and retries
// until they are all reachable.
package startup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/cenkalti/backoff/v4"
)

type Dependency interface {
	GetName() string
	DependsOn() []string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Status int

const (
	StatusPending Status = iota
	StatusStarted
	StatusStopped
	StatusFailed
)

type Startup struct {
	order        []string
	dependencies map[string]Dependency
	statuses     map[string]Status
	started      []string
	logger       ectologger.Logger
	maxAttempts  int
	initialWait  time.Duration
}

func NewStartup(logger ectologger.Logger, maxAttempts int) *Startup {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Startup{
		logger:       logger,
		dependencies: make(map[string]Dependency),
		statuses:     make(map[string]Status),
		maxAttempts:  maxAttempts,
		initialWait:  time.Second,
	}
}

func (s *Startup) AddDependency(dependency Dependency) {
	name := dependency.GetName()
	if _, ok := s.dependencies[name]; !ok {
		s.order = append(s.order, name)
	}
	s.dependencies[name] = dependency
}

// Status reports the last known status of the named dependency.
func (s *Startup) Status(name string) Status {
	return s.statuses[name]
}

// Start starts every dependency, retrying the whole pass with exponential
// backoff. Dependencies that already started are not restarted.
func (s *Startup) Start(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.initialWait
	b.MaxElapsedTime = 0

	attempt := 0
	op := func() error {
		attempt++
		s.logger.WithContext(ctx).WithFields(map[string]any{"attempt": attempt}).Infof("Beginning startup attempt %d/%d", attempt, s.maxAttempts)

		for _, name := range s.order {
			if err := s.start(ctx, name, nil); err != nil {
				var unknown *unknownDependencyError
				if errors.As(err, &unknown) {
					return backoff.Permanent(err)
				}
				s.logger.WithContext(ctx).WithError(err).Errorf("Startup attempt %d failed", attempt)
				return err
			}
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxAttempts-1)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("startup failed after %d attempts: %w", attempt, err)
	}
	return nil
}

type unknownDependencyError struct {
	name string
	by   string
}

func (e *unknownDependencyError) Error() string {
	return fmt.Sprintf("dependency '%s' required by '%s' is not registered", e.name, e.by)
}

func (s *Startup) start(ctx context.Context, name string, visiting []string) error {
	if s.statuses[name] == StatusStarted {
		return nil
	}
	for _, v := range visiting {
		if v == name {
			return backoff.Permanent(fmt.Errorf("dependency cycle through '%s'", name))
		}
	}
	dependency := s.dependencies[name]

	for _, required := range dependency.DependsOn() {
		if _, ok := s.dependencies[required]; !ok {
			return &unknownDependencyError{name: required, by: name}
		}
		if err := s.start(ctx, required, append(visiting, name)); err != nil {
			return err
		}
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{"dependency": name})
	log.Infof("Starting dependency '%s'", name)
	s.statuses[name] = StatusPending
	if err := dependency.Start(ctx); err != nil {
		s.statuses[name] = StatusFailed
		return fmt.Errorf("start %s: %w", name, err)
	}
	s.statuses[name] = StatusStarted
	s.started = append(s.started, name)
	return nil
}

// Stop stops started dependencies in reverse start order. Every dependency
// is given a chance to stop; the errors are joined.
func (s *Startup) Stop(ctx context.Context) error {
	var errs []error
	for i := len(s.started) - 1; i >= 0; i-- {
		name := s.started[i]
		log := s.logger.WithContext(ctx).WithFields(map[string]any{"dependency": name})
		log.Infof("Stopping dependency '%s'", name)
		if err := s.dependencies[name].Stop(ctx); err != nil {
			log.WithError(err).Errorf("Failed to stop dependency '%s'", name)
			errs = append(errs, err)
			continue
		}
		s.statuses[name] = StatusStopped
	}
	s.started = nil
	return errors.Join(errs...)
}

// Func adapts a pair of functions into a Dependency.
type Func struct {
	Name     string
	Requires []string
	OnStart  func(ctx context.Context) error
	OnStop   func(ctx context.Context) error
}

func (f Func) GetName() string     { return f.Name }
func (f Func) DependsOn() []string { return f.Requires }

func (f Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}
