// Package logging configures structured slog output for ragcore.
//
// Logs are JSON lines written to a size-rotated file under ~/.ragcore/logs/
// and, unless running as an MCP stdio server, mirrored to stderr.
package logging
