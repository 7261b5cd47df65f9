// Package pda derives program-owned addresses from ordered seed bytes and a
// program identifier.
//
// A derived address is the hash of the seeds, a one-byte bump, the program
// identifier and a fixed domain tag. The bump is searched downward from 255
// until the hash lands outside the set of "natural" addresses, which is
// decided by a pluggable HashSpace. Ed25519Space is the production space:
// SHA-256 with edwards25519 point decoding as the natural-address test.
//
// Everything in this package is a pure function of its inputs.
package pda
