package model

import (
	"path/filepath"
	"sort"
	"strings"
)

// Input format constants.
const (
	FormatMusicXML = "musicxml"
	FormatMXL      = "mxl"
	FormatMSCZ     = "mscz"
	FormatMSCX     = "mscx"
	FormatMIDI     = "midi"
)

// Output format constants.
const (
	FormatPDF  = "pdf"
	FormatPNG  = "png"
	FormatSVG  = "svg"
	FormatMP3  = "mp3"
	FormatWAV  = "wav"
	FormatFLAC = "flac"
	FormatOGG  = "ogg"
)

// inputExtensions maps each input format to the file extension the engine
// expects. The extension decides which importer the engine picks, so the
// staged input file must carry the right one.
var inputExtensions = map[string]string{
	FormatMusicXML: ".musicxml",
	FormatMXL:      ".mxl",
	FormatMSCZ:     ".mscz",
	FormatMSCX:     ".mscx",
	FormatMIDI:     ".mid",
}

// outputExtensions maps each output format to the extension the engine
// selects its exporter from.
var outputExtensions = map[string]string{
	FormatPDF:      ".pdf",
	FormatPNG:      ".png",
	FormatSVG:      ".svg",
	FormatMP3:      ".mp3",
	FormatWAV:      ".wav",
	FormatFLAC:     ".flac",
	FormatOGG:      ".ogg",
	FormatMIDI:     ".mid",
	FormatMusicXML: ".musicxml",
}

// contentTypes maps each output format to its MIME type.
var contentTypes = map[string]string{
	FormatPDF:      "application/pdf",
	FormatPNG:      "image/png",
	FormatSVG:      "image/svg+xml",
	FormatMP3:      "audio/mpeg",
	FormatWAV:      "audio/wav",
	FormatFLAC:     "audio/flac",
	FormatOGG:      "audio/ogg",
	FormatMIDI:     "audio/midi",
	FormatMusicXML: "application/vnd.recordare.musicxml+xml",
}

// conversions is the fixed supported-format table. Every pair outside this
// table is rejected at admission, before any workspace is allocated.
var conversions = map[string]map[string]bool{
	FormatMusicXML: allOutputs(),
	FormatMXL:      allOutputs(),
	FormatMSCZ:     allOutputs(),
	FormatMSCX:     allOutputs(),
	FormatMIDI: {
		FormatPDF:      true,
		FormatPNG:      true,
		FormatSVG:      true,
		FormatMP3:      true,
		FormatWAV:      true,
		FormatFLAC:     true,
		FormatOGG:      true,
		FormatMusicXML: true,
	},
}

func allOutputs() map[string]bool {
	return map[string]bool{
		FormatPDF:      true,
		FormatPNG:      true,
		FormatSVG:      true,
		FormatMP3:      true,
		FormatWAV:      true,
		FormatFLAC:     true,
		FormatOGG:      true,
		FormatMIDI:     true,
		FormatMusicXML: true,
	}
}

// SupportedConversion reports whether converting from the input format to
// the output format is in the supported table.
func SupportedConversion(inputFormat, outputFormat string) bool {
	outputs, ok := conversions[strings.ToLower(inputFormat)]
	if !ok {
		return false
	}
	return outputs[strings.ToLower(outputFormat)]
}

// InputFormats returns all supported input formats, sorted for stable
// API responses.
func InputFormats() []string {
	formats := make([]string, 0, len(conversions))
	for f := range conversions {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// OutputFormats returns all supported output formats for the given input
// format, sorted. Returns nil for unknown inputs.
func OutputFormats(inputFormat string) []string {
	outputs, ok := conversions[strings.ToLower(inputFormat)]
	if !ok {
		return nil
	}
	formats := make([]string, 0, len(outputs))
	for f := range outputs {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}

// InputFormatFromFilename infers the input format from a filename extension.
func InputFormatFromFilename(name string) (string, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xml", ".musicxml":
		return FormatMusicXML, true
	case ".mxl":
		return FormatMXL, true
	case ".mscz":
		return FormatMSCZ, true
	case ".mscx":
		return FormatMSCX, true
	case ".mid", ".midi":
		return FormatMIDI, true
	}
	return "", false
}

// InputExtension returns the staging file extension for an input format.
func InputExtension(format string) string {
	return inputExtensions[strings.ToLower(format)]
}

// OutputExtension returns the file extension for an output format.
func OutputExtension(format string) string {
	return outputExtensions[strings.ToLower(format)]
}

// ContentType returns the MIME type for an output format, defaulting to
// application/octet-stream for unknown formats.
func ContentType(format string) string {
	if ct, ok := contentTypes[strings.ToLower(format)]; ok {
		return ct
	}
	return "application/octet-stream"
}
