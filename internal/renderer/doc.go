// Package renderer supervises invocations of the external notation engine.
// The engine is a GUI-derived batch tool: it needs an offscreen Qt backend,
// can hang indefinitely on malformed input, and signals failure only through
// exit codes, stderr text, and missing output files. The supervisor reports
// those raw signals; interpreting them as success or failure is the
// orchestrator's job.
package renderer
