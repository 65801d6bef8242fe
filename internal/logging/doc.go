// Package logging provides structured JSON logging with file rotation for
// the department QA service. Logs are written to ~/.deptqa/logs/ with one
// file per process role: server.log for the answer API and ingest.log for
// crawl/index runs.
//
// Log level comes from configuration and can be overridden with the
// DEPTQA_LOG_LEVEL environment variable.
package logging
