// Package logging provides structured logging with rotation for regcopilot.
// Logs are written as JSON to ~/.regcopilot/logs/ and mirrored to stderr;
// interactive terminals get a human-readable text format instead.
package logging
