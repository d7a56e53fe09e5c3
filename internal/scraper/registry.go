package scraper

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
)

const (
	// DefaultPriority is used when WithPriority is not supplied.
	DefaultPriority = 10
	// DefaultRatePerSecond matches fifteen calls per minute.
	DefaultRatePerSecond = 15.0 / 60.0
)

// BindingKind tags which resource a strategy needs at registration time.
type BindingKind int

// Supported resource bindings.
const (
	BindNone BindingKind = iota
	BindSession
)

// Binding describes a strategy's resource requirements. It is resolved into
// concrete handles by the registry's SessionFactory when the strategy is added.
type Binding struct {
	Kind          BindingKind
	RatePerSecond float64
}

// SessionFactory constructs the rate-limited session for a strategy.
type SessionFactory func(name string, binding Binding) (Session, error)

// Strategy is one registered fetch capability. Fields are read-only after
// registration.
type Strategy struct {
	Name      string
	Priority  int
	Validate  bool
	Binding   Binding
	Resources Resources
	fetch     FetchFunc
}

// String returns "name - priority".
func (s *Strategy) String() string {
	return fmt.Sprintf("%s - %d", s.Name, s.Priority)
}

// Tier groups the strategies that share one priority.
type Tier struct {
	Priority   int
	Strategies []*Strategy
}

// Plan is the ordered list of tiers, highest priority first.
type Plan []Tier

// Len returns the number of strategies across all tiers.
func (p Plan) Len() int {
	n := 0
	for _, tier := range p {
		n += len(tier.Strategies)
	}
	return n
}

// Option customizes a registration.
type Option func(*Strategy)

// WithPriority sets the tier priority; higher runs earlier.
func WithPriority(priority int) Option {
	return func(s *Strategy) {
		s.Priority = priority
	}
}

// WithValidation controls whether a truthy result must also pass the Validator.
func WithValidation(validate bool) Option {
	return func(s *Strategy) {
		s.Validate = validate
	}
}

// WithSession binds a rate-limited session allowing ratePerSecond calls.
func WithSession(ratePerSecond float64) Option {
	return func(s *Strategy) {
		s.Binding = Binding{Kind: BindSession, RatePerSecond: ratePerSecond}
	}
}

// Registry holds the registered strategies and their execution plan.
type Registry struct {
	mu         sync.RWMutex
	strategies []*Strategy
	plan       Plan
	factory    SessionFactory
	closed     bool
}

// NewRegistry returns an empty registry. factory may be nil when no strategy
// binds a session.
func NewRegistry(factory SessionFactory) *Registry {
	return &Registry{factory: factory}
}

// Register adds a strategy and recomputes the plan.
func (r *Registry) Register(name string, fetch FetchFunc, opts ...Option) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &ConfigurationError{Reason: "name is required"}
	}
	if fetch == nil {
		return &ConfigurationError{Strategy: name, Reason: "fetch function is required"}
	}
	s := &Strategy{
		Name:     name,
		Priority: DefaultPriority,
		Validate: true,
		fetch:    fetch,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return &ConfigurationError{Strategy: name, Reason: "registry is closed"}
	}
	if err := r.bind(s); err != nil {
		return err
	}
	r.strategies = append(r.strategies, s)
	r.plan = buildPlan(r.strategies)
	return nil
}

func (r *Registry) bind(s *Strategy) error {
	switch s.Binding.Kind {
	case BindNone:
		return nil
	case BindSession:
		rate := s.Binding.RatePerSecond
		if math.IsNaN(rate) || rate <= 0 {
			return &ConfigurationError{Strategy: s.Name, Reason: "session rate must be > 0"}
		}
		if r.factory == nil {
			return &ConfigurationError{Strategy: s.Name, Reason: "no session factory configured"}
		}
		sess, err := r.factory(s.Name, s.Binding)
		if err != nil {
			return fmt.Errorf("bind session for %s: %w", s.Name, err)
		}
		s.Resources.Session = sess
		return nil
	default:
		return &ConfigurationError{Strategy: s.Name, Reason: fmt.Sprintf("unknown binding kind %d", s.Binding.Kind)}
	}
}

// Plan returns a copy of the current execution plan.
func (r *Registry) Plan() Plan {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(Plan, len(r.plan))
	for i, tier := range r.plan {
		out[i] = Tier{Priority: tier.Priority, Strategies: slices.Clone(tier.Strategies)}
	}
	return out
}

// Names returns the registered strategy names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.strategies))
	for i, s := range r.strategies {
		names[i] = s.Name
	}
	return names
}

// Close releases every bound session. It is safe to call more than once.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	for _, s := range r.strategies {
		if s.Resources.Session == nil {
			continue
		}
		if err := s.Resources.Session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func buildPlan(strategies []*Strategy) Plan {
	sorted := slices.Clone(strategies)
	slices.SortStableFunc(sorted, func(a, b *Strategy) int {
		return cmp.Compare(b.Priority, a.Priority)
	})
	var plan Plan
	for _, s := range sorted {
		if n := len(plan); n > 0 && plan[n-1].Priority == s.Priority {
			plan[n-1].Strategies = append(plan[n-1].Strategies, s)
			continue
		}
		plan = append(plan, Tier{Priority: s.Priority, Strategies: []*Strategy{s}})
	}
	return plan
}
