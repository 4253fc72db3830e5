// Package orchestrator sequences conversion jobs end to end: admission
// against the supported-format table, FIFO queuing into a bounded worker
// pool, workspace allocation, engine supervision, outcome interpretation,
// and result capture. A job's workspace is released on every exit path,
// after any artifact has been copied out.
package orchestrator
