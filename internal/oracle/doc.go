// Package oracle derives the account set an agent needs to query the LLM
// oracle program, encodes the agent program's instructions and account
// state, and polls agent state for the oracle's callback.
//
// Address derivation is order dependent. The oracle counter is read first
// because its value seeds the context address; the context and agent
// addresses are independent of each other; the interaction address seeds on
// both and can only be derived once they exist.
package oracle
