// Package logger builds the slog.Logger shared by driftwatch components.
// Production environments log JSON, everything else logs text; both go to
// stderr so command output on stdout stays machine readable.
package logger
