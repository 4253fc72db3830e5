package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"scoreforge/internal/model"
)

func TestGetStatsEmpty(t *testing.T) {
	srv := newTestServer(t, `cp "$4" "$3"`)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("Total = %d, want 0", stats.Total)
	}
}

func TestGetStatsAfterJobs(t *testing.T) {
	srv := newTestServer(t, `cp "$4" "$3"`)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	createResp := postScore(t, ts, "sonata.musicxml", "pdf", []byte(scoreXML))
	created := decodeJob(t, createResp.Body)
	createResp.Body.Close()

	waitResp, _ := http.Get(ts.URL + "/v1/jobs/" + created.ID + "?wait=5s")
	waitResp.Body.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	defer resp.Body.Close()

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("Total = %d, want 1", stats.Total)
	}
	if stats.ByStatus[model.StatusSucceeded] != 1 {
		t.Errorf("ByStatus[succeeded] = %d, want 1", stats.ByStatus[model.StatusSucceeded])
	}
	if stats.ByFormat[model.FormatPDF] != 1 {
		t.Errorf("ByFormat[pdf] = %d, want 1", stats.ByFormat[model.FormatPDF])
	}
}

func TestListFormats(t *testing.T) {
	srv := newTestServer(t, `cp "$4" "$3"`)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/formats")
	if err != nil {
		t.Fatalf("GET /v1/formats: %v", err)
	}
	defer resp.Body.Close()

	var formats formatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&formats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(formats.Inputs) == 0 {
		t.Fatal("no input formats advertised")
	}
	pdfOK := false
	for _, out := range formats.Conversions[model.FormatMusicXML] {
		if out == model.FormatPDF {
			pdfOK = true
		}
	}
	if !pdfOK {
		t.Error("musicxml to pdf missing from advertised conversions")
	}
	if outs := formats.Conversions[model.FormatMIDI]; contains(outs, model.FormatMIDI) {
		t.Error("midi to midi should not be advertised")
	}
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}
