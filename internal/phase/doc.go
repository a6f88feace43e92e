// Package phase is the static catalog of pipeline phases.
//
// Each phase declares the artifacts it consumes, the artifacts it must have
// produced when it reports completion, and the earlier phase a block routes
// control back to. The catalog is pure configuration; nothing here mutates at
// runtime. Treat it as the single source of truth for phase ordering: the
// engine and the state store both derive their fixed six-phase layout from
// this package.
package phase
