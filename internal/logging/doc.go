// Package logging builds the slog logger of the osipd process.
package logging
