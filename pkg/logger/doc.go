// Package logger provides the structured logging interface used across socialdash.
//
// It wraps zerolog and offers leveled logging, child loggers carrying fields,
// a colored console writer (or JSON lines when logging.json is set), optional
// file output, and a global instance for command wiring.
//
// Components receive a Logger explicitly:
//
//	log := logger.GetLogger().WithField("component", "tracker")
//	log.InfoWithFields("Scrape started", map[string]interface{}{
//	    "run_id":   runID,
//	    "username": username,
//	})
//
// Tests use NewTestLogger to capture and assert on messages.
package logger
