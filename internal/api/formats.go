package api

import (
	"net/http"

	"scoreforge/internal/model"
)

// formatsResponse lists the accepted input formats and, per input, the
// output formats it can convert to.
type formatsResponse struct {
	Inputs      []string            `json:"inputs"`
	Conversions map[string][]string `json:"conversions"`
}

func (s *Server) handleListFormats(w http.ResponseWriter, _ *http.Request) {
	inputs := model.InputFormats()
	conversions := make(map[string][]string, len(inputs))
	for _, in := range inputs {
		conversions[in] = model.OutputFormats(in)
	}

	s.writeJSON(w, http.StatusOK, formatsResponse{
		Inputs:      inputs,
		Conversions: conversions,
	})
}
