// Package logging builds slog loggers with the project's console and JSON
// handlers, standardized field keys, and context-derived attributes.
package logging
