package schema

import (
	"reflect"
	"sync"
)

// ServiceProvider resolves services by Go type for mutation calls.
type ServiceProvider interface {
	ServiceFor(t reflect.Type) (any, bool)
}

// Services is a registry of service instances addressable both by name, for
// expression service calls, and by type, for mutation parameters.
type Services struct {
	mu     sync.RWMutex
	byName map[string]any
	order  []string
}

func NewServices() *Services {
	return &Services{byName: map[string]any{}}
}

func (s *Services) Register(name string, svc any) *Services {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; !ok {
		s.order = append(s.order, name)
	}
	s.byName[name] = svc
	return s
}

func (s *Services) Service(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.byName[name]
	return svc, ok
}

// ServiceFor returns the first registered service assignable to t.
func (s *Services) ServiceFor(t reflect.Type) (any, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, name := range s.order {
		svc := s.byName[name]
		if svc != nil && reflect.TypeOf(svc).AssignableTo(t) {
			return svc, true
		}
	}
	return nil, false
}
