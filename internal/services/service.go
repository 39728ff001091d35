package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrDuplicateService = errors.New("services: duplicate service name")
	ErrAlreadyRunning   = errors.New("services: registry already running")
)

// Service is one long-running component of a process: a transport, the
// status server, a heartbeat. Run returns nil when ctx ends and an error
// when the component fails.
type Service interface {
	Name() string
	Run(ctx context.Context) error
}

// Func adapts a plain function to Service.
type Func struct {
	ServiceName string
	Fn          func(ctx context.Context) error
}

func (f Func) Name() string {
	return f.ServiceName
}

func (f Func) Run(ctx context.Context) error {
	return f.Fn(ctx)
}

// State is the lifecycle of one registered service.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateFailed  State = "failed"
)

// Status is one row of ServiceRegistry.Status.
type Status struct {
	Name    string    `json:"name"`
	State   State     `json:"state"`
	Since   time.Time `json:"since,omitzero"`
	LastErr string    `json:"last_error,omitempty"`
}

// ServiceRegistry stores services by name and runs them as one unit.
type ServiceRegistry struct {
	mu      sync.RWMutex
	repo    map[string]Service
	order   []string
	status  map[string]Status
	running bool
}

// NewServiceRegistry initializes an empty service registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		repo:   make(map[string]Service),
		status: make(map[string]Status),
	}
}

// Register adds a service. Names must be unique.
func (sr *ServiceRegistry) Register(s Service) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	name := s.Name()
	if _, ok := sr.repo[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateService, name)
	}
	sr.repo[name] = s
	sr.order = append(sr.order, name)
	sr.status[name] = Status{Name: name, State: StateIdle}
	return nil
}

// All returns a snapshot of all registered services.
func (sr *ServiceRegistry) All() map[string]Service {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make(map[string]Service, len(sr.repo))
	for name, svc := range sr.repo {
		out[name] = svc
	}
	return out
}

// Get returns a service by name.
func (sr *ServiceRegistry) Get(name string) (Service, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	p, ok := sr.repo[name]
	return p, ok
}

// Status lists services in registration order.
func (sr *ServiceRegistry) Status() []Status {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	out := make([]Status, 0, len(sr.order))
	for _, name := range sr.order {
		out = append(out, sr.status[name])
	}
	return out
}

// RunAll runs every registered service until ctx ends or one of them fails.
// The first failure cancels the rest and is returned.
func (sr *ServiceRegistry) RunAll(ctx context.Context) error {
	sr.mu.Lock()
	if sr.running {
		sr.mu.Unlock()
		return ErrAlreadyRunning
	}
	sr.running = true
	list := make([]Service, 0, len(sr.order))
	for _, name := range sr.order {
		list = append(list, sr.repo[name])
	}
	sr.mu.Unlock()
	defer func() {
		sr.mu.Lock()
		sr.running = false
		sr.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, svc := range list {
		g.Go(func() error {
			sr.setState(svc.Name(), StateRunning, nil)
			err := svc.Run(gctx)
			if err != nil {
				sr.setState(svc.Name(), StateFailed, err)
				log.Error().Err(err).Str("service", svc.Name()).Msg("services.ServiceRegistry.RunAll service failed")
				return fmt.Errorf("%s: %w", svc.Name(), err)
			}
			sr.setState(svc.Name(), StateStopped, nil)
			log.Debug().Str("service", svc.Name()).Msg("services.ServiceRegistry.RunAll service stopped")
			return nil
		})
	}
	return g.Wait()
}

func (sr *ServiceRegistry) setState(name string, state State, err error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	st := Status{Name: name, State: state, Since: time.Now()}
	if err != nil {
		st.LastErr = err.Error()
	}
	sr.status[name] = st
}
