// Package agent contains lectern's core (non-UI) logic.
//
// The Researcher runs the bounded search-and-answer loop against a model. The
// Service resolves the model and provider from the configuration, builds the
// tool registry, asks an optional clarifying question and then starts the
// researcher.
package agent
