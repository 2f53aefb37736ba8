/*
Package log provides structured logging for Burrow using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component- and domain-scoped child loggers and configurable log levels.
All logs include timestamps and support filtering by severity level for
production debugging.

# Usage

Initializing the logger:

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Structured logging:

	log.Logger.Info().
		Str("sandbox_id", id).
		Int("progress", 40).
		Msg("provisioning")

Component and domain loggers:

	sandboxLog := log.WithComponent("sandbox")
	oneSandbox := log.WithSandboxID(sandboxLog, id)
	oneSandbox.Info().Msg("sandbox running")

# Security

Never log secret values. Log lines derived from container output pass through
the redaction filter in pkg/security before being stored or streamed.
*/
package log
