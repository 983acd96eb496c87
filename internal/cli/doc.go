// Package cli holds formatting and path helpers shared by the strata
// commands. It must not import the orchestrator or engine packages so
// that any command file can use it.
package cli
