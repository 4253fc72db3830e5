package renderer

// BuildArgs is the pure mapping from an input path and a desired output path
// to the engine's command line. The engine selects importer and exporter
// from the file extensions; -f converts despite score corruption warnings,
// which batch use has no way to acknowledge interactively.
func BuildArgs(inputPath, outputPath string) []string {
	return []string{"-f", "-o", outputPath, inputPath}
}
