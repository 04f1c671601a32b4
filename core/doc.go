// Package core defines the domain model for Vanguard: security events,
// alerts, detection rules with structured predicates, and attack
// simulations, together with the state machines and error taxonomy the
// engine packages enforce.
//
// Types here carry no behavior beyond validation and transition checks.
// Evaluation lives in the detect package, correlation in correlate, and
// the simulation lifecycle driver in simulate. Storage interfaces are
// declared by the consuming packages, not here.
package core
