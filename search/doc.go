// Package search houses concrete implementations of core.CaseSearcher. The
// in-memory index serves tests and demos; the sqlite sub-package backs a
// persistent single-node knowledge store.
package search
