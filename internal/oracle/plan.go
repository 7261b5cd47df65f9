package oracle

import (
	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/pda"
)

// Plan binds the program identifiers and the deriver used for every
// address in the query flow. It carries no connection state.
type Plan struct {
	programs Programs
	deriver  pda.Deriver
}

// NewPlan returns a Plan over programs using deriver.
func NewPlan(programs Programs, deriver pda.Deriver) Plan {
	return Plan{programs: programs, deriver: deriver}
}

// Programs returns the program identifiers of the plan.
func (p Plan) Programs() Programs {
	return p.programs
}

// Deriver returns the deriver of the plan.
func (p Plan) Deriver() pda.Deriver {
	return p.deriver
}

// Counter derives the oracle counter account.
func (p Plan) Counter() (pda.Derived, error) {
	return p.deriver.Derive(p.programs.Oracle, CounterSeedPrefix)
}

// Context derives the oracle context account for a counter value.
func (p Plan) Context(counter uint32) (pda.Derived, error) {
	return p.deriver.Derive(p.programs.Oracle, ContextSeeds(counter)...)
}

// Agent derives the agent account owned by maker.
func (p Plan) Agent(maker pda.Address) (pda.Derived, error) {
	if maker.IsZero() {
		return pda.Derived{}, xerrors.New(CodeMissingInput, "agent derivation needs the maker address")
	}
	return p.deriver.Derive(p.programs.Agent, AgentSeedPrefix, maker.Bytes())
}

// Interaction derives the oracle interaction account for an agent and context.
func (p Plan) Interaction(agent, context pda.Address) (pda.Derived, error) {
	if agent.IsZero() || context.IsZero() {
		return pda.Derived{}, xerrors.New(CodeMissingInput, "interaction derivation needs both the agent and context addresses")
	}
	return p.deriver.Derive(p.programs.Oracle, InteractionSeedPrefix, agent.Bytes(), context.Bytes())
}

// Identity derives the oracle identity account that signs callbacks.
func (p Plan) Identity() (pda.Derived, error) {
	return p.deriver.Derive(p.programs.Oracle, IdentitySeedPrefix)
}

// QueueAuthority derives the agent program's scheduling authority.
func (p Plan) QueueAuthority() (pda.Derived, error) {
	return p.deriver.Derive(p.programs.Agent, QueueAuthoritySeedPrefix)
}

// ContextSeeds returns the seed components of the context account.
func ContextSeeds(counter uint32) [][]byte {
	return [][]byte{ContextSeedPrefix, CounterSeed(counter)}
}
