/*
Package log provides structured logging for Burrow built on zerolog.

The root logger is constructed once in cmd/burrow via New(Config) and passed
explicitly into every component constructor; there is no package-level logger
and no ambient state. Components derive child loggers carrying stable fields:

	logger := log.WithComponent(root, "lifecycle")
	taskLog := log.WithTaskID(logger, task.ID)
	taskLog.Info().Str("status", string(task.Status)).Msg("task started")

Console output (RFC3339 timestamps) is the default; JSONOutput switches to
newline-delimited JSON for ingestion.
*/
package log
