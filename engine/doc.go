// Package engine implements the multi-stage dialogue pipeline: topic
// continuity, issue classification, case narrowing and reply formulation.
// Engine.Process runs one user turn against a session snapshot and streams
// progress events followed by a single terminal event; the session commits
// atomically only after the terminal outcome is known.
package engine
