// Package main hosts the loom CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into driver
// operations: creating pipelines, advancing phases, resolving suspensions,
// and inspecting state, history, and artifacts. It centralizes configuration
// resolution and store wiring so subcommands can focus on user experience.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
