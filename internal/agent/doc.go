// Package agent drives one oracle query end to end: it resolves the
// counter-dependent account set, initialises the caller's agent account on
// first use, submits ask_gpt and polls the agent account for the oracle's
// callback.
package agent
