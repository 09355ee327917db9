// Package core defines the shared domain types and service interfaces of the
// supportflow dialogue engine: the Session aggregate, immutable Turns, Case
// documents retrieved from the knowledge store, the failure taxonomy, and the
// SessionStore / CaseSearcher / TurnLog contracts implemented elsewhere.
package core
