// Package turnlog houses concrete implementations of core.TurnLog, the
// append-only analytics record of completed turns. Writes are fire-and-forget
// from the engine's perspective; a failed append never affects the dialogue.
package turnlog
