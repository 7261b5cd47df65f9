package oracle

import (
	"SolOracle-Chain/internal/config"
	"SolOracle-Chain/internal/pda"
)

// Seed prefixes used by the oracle and agent programs.
var (
	CounterSeedPrefix        = []byte("counter")
	ContextSeedPrefix        = []byte("test-context")
	InteractionSeedPrefix    = []byte("interaction")
	IdentitySeedPrefix       = []byte("identity")
	AgentSeedPrefix          = []byte("agent")
	QueueAuthoritySeedPrefix = []byte("queue_authority")
)

// Programs names the two programs that own the derived address spaces.
type Programs struct {
	Oracle pda.Address `json:"oracle"`
	Agent  pda.Address `json:"agent"`
}

// DefaultPrograms returns the deployed program identifiers.
func DefaultPrograms() Programs {
	return Programs{
		Oracle: pda.MustParseAddress(config.DefaultOracleProgram),
		Agent:  pda.MustParseAddress(config.DefaultAgentProgram),
	}
}

// ProgramsFromConfig parses the configured base58 identifiers.
func ProgramsFromConfig(cfg config.ProgramsConfig) (Programs, error) {
	oracleID, err := pda.ParseAddress(cfg.Oracle)
	if err != nil {
		return Programs{}, err
	}
	agentID, err := pda.ParseAddress(cfg.Agent)
	if err != nil {
		return Programs{}, err
	}
	return Programs{Oracle: oracleID, Agent: agentID}, nil
}
