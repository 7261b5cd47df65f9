package oracle

import (
	"sync"

	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/pda"
	"SolOracle-Chain/pkg/logger"
)

// Context source labels recorded in Addresses.
const (
	ContextFromCounter = "counter"
	ContextFromAgent   = "agent"
)

// Addresses is the resolved account set for one agent.
type Addresses struct {
	Maker            pda.Address `json:"maker"`
	Counter          pda.Address `json:"counter"`
	CounterValue     uint32      `json:"counter_value"`
	CounterObserved  bool        `json:"counter_observed"`
	Context          pda.Address `json:"context"`
	ContextBump      uint8       `json:"context_bump"`
	ContextSource    string      `json:"context_source"`
	Agent            pda.Address `json:"agent"`
	AgentBump        uint8       `json:"agent_bump"`
	Interaction      pda.Address `json:"interaction"`
	InteractionBump  uint8       `json:"interaction_bump"`
	Identity         pda.Address `json:"identity"`
	AgentInitialized bool        `json:"agent_initialized"`
}

// Sequence walks the ordered derivation steps. Steps two and three may run
// concurrently; the interaction step fails with ErrMissingInput until both
// have completed.
type Sequence struct {
	plan Plan

	mu            sync.Mutex
	counterAddr   pda.Address
	counter       uint32
	counterSeen   bool
	counterParsed bool
	maker         pda.Address
	context       *pda.Derived
	contextSource string
	agent         *pda.Derived
	interaction   *pda.Derived
}

// NewSequence starts a derivation sequence over plan.
func (p Plan) NewSequence() *Sequence {
	return &Sequence{plan: p}
}

// CounterAddress derives the counter account that must be read first.
func (s *Sequence) CounterAddress() (pda.Address, error) {
	derived, err := s.plan.Counter()
	if err != nil {
		return pda.Address{}, err
	}
	s.mu.Lock()
	s.counterAddr = derived.Address
	s.mu.Unlock()
	return derived.Address, nil
}

// ObserveCounter records the counter read. A failed read is logged and
// treated as zero; so is an absent or short blob.
func (s *Sequence) ObserveCounter(blob []byte, readErr error) uint32 {
	log := logger.Named("oracle")
	s.mu.Lock()
	counterAddr := s.counterAddr
	s.mu.Unlock()

	value, parsed := uint32(0), false
	if readErr != nil {
		log.Warn("counter unavailable, falling back to zero",
			"code", string(CodeCounterUnavailable),
			"counter", counterAddr.String(),
			"error", readErr.Error())
	} else {
		value, parsed = ParseCounter(blob)
		if !parsed {
			log.Debug("counter blob absent or short, using zero", "counter", counterAddr.String(), "length", len(blob))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter = value
	s.counterSeen = true
	s.counterParsed = parsed
	return value
}

// DeriveContext derives the context account from the observed counter.
func (s *Sequence) DeriveContext() (pda.Derived, error) {
	s.mu.Lock()
	seen, counter := s.counterSeen, s.counter
	s.mu.Unlock()
	if !seen {
		return pda.Derived{}, xerrors.New(CodeMissingInput, "context derivation needs the counter value")
	}

	derived, err := s.plan.Context(counter)
	if err != nil {
		return pda.Derived{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.context == nil {
		s.context = &derived
		s.contextSource = ContextFromCounter
	}
	logger.Named("oracle").Debug("context derived", "context", derived.Address.String(), "counter", counter, "bump", derived.Bump)
	return derived, nil
}

// DeriveAgent derives the agent account for maker.
func (s *Sequence) DeriveAgent(maker pda.Address) (pda.Derived, error) {
	derived, err := s.plan.Agent(maker)
	if err != nil {
		return pda.Derived{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maker = maker
	s.agent = &derived
	logger.Named("oracle").Debug("agent derived", "agent", derived.Address.String(), "bump", derived.Bump)
	return derived, nil
}

// AdoptContext replaces the counter-derived context with the one recorded
// in an initialised agent account. The adopted context carries no bump.
func (s *Sequence) AdoptContext(stored pda.Address) {
	if stored.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.context != nil && s.context.Address == stored {
		s.contextSource = ContextFromAgent
		return
	}
	s.context = &pda.Derived{Address: stored}
	s.contextSource = ContextFromAgent
	s.interaction = nil
	logger.Named("oracle").Info("using context recorded by agent", "context", stored.String())
}

// DeriveInteraction derives the interaction account. Both the agent and the
// context must be available.
func (s *Sequence) DeriveInteraction() (pda.Derived, error) {
	s.mu.Lock()
	agent, context := s.agent, s.context
	s.mu.Unlock()
	if agent == nil || context == nil {
		return pda.Derived{}, xerrors.New(CodeMissingInput, "interaction derivation needs both the agent and context addresses")
	}

	derived, err := s.plan.Interaction(agent.Address, context.Address)
	if err != nil {
		return pda.Derived{}, err
	}
	s.mu.Lock()
	s.interaction = &derived
	s.mu.Unlock()
	logger.Named("oracle").Debug("interaction derived",
		"agent", agent.Address.String(),
		"context", context.Address.String(),
		"interaction", derived.Address.String())
	return derived, nil
}

// Addresses snapshots the derived values. Steps that have not run are zero.
func (s *Sequence) Addresses() Addresses {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Addresses{
		Maker:           s.maker,
		Counter:         s.counterAddr,
		CounterValue:    s.counter,
		CounterObserved: s.counterParsed,
		ContextSource:   s.contextSource,
	}
	if s.context != nil {
		out.Context, out.ContextBump = s.context.Address, s.context.Bump
	}
	if s.agent != nil {
		out.Agent, out.AgentBump = s.agent.Address, s.agent.Bump
	}
	if s.interaction != nil {
		out.Interaction, out.InteractionBump = s.interaction.Address, s.interaction.Bump
	}
	return out
}
