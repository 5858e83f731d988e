// Package engine implements the deterministic game engine the session layer
// drives: an id-addressed element tree with per-seat visibility, seat-indexed
// players, declarative actions with dependent selections, and seeded
// randomness so that replaying the same action log from the same seed always
// reproduces the same state.
//
// The engine knows nothing about transports, persistence, or lobbies. A game
// is described by a Definition (setup function plus action table) and driven
// exclusively through PerformAction. Mutations of the element tree go through
// Game helpers (NewElement, Element.MoveTo, Element.SetAttr, ...) which record
// an internal command log used by snapshots.
//
// Usage:
//
//	g, err := engine.NewGame(def, engine.Config{
//		Seed:        "s1",
//		PlayerCount: 2,
//		PlayerNames: []string{"A", "B"},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = g.PerformAction("pass", 1, nil)
package engine
