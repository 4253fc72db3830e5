package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond

	scoreXML = `<?xml version="1.0"?><score-partwise/>`
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "scoreforge-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "scoreforge")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/scoreforge")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

// writeStubEngine writes a shell script standing in for MuseScore. It is
// invoked as: stub -f -o <output> <input>.
func writeStubEngine(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mscore-stub")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub engine: %v", err)
	}
	return path
}

func startServer(t *testing.T, binary, engineBin string) *serverProc {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	wsRoot := filepath.Join(t.TempDir(), "ws")

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(),
		"SCOREFORGE_LISTEN_ADDR="+addr,
		"SCOREFORGE_DB_PATH="+dbPath,
		"SCOREFORGE_WORKSPACE_ROOT="+wsRoot,
		"SCOREFORGE_ENGINE_BIN="+engineBin,
		"SCOREFORGE_LOG_LEVEL=info",
	)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

func submitScore(t *testing.T, url, filename, outputFormat string, data []byte) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(data)
	mw.WriteField("output_format", outputFormat)
	mw.Close()

	resp, err := http.Post(url+"/v1/jobs", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /v1/jobs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("submit status = %d, want 202\nbody: %s", resp.StatusCode, body)
	}

	var job map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return job
}

func TestBinaryBuildsAndStarts(t *testing.T) {
	binary := getBinary(t)
	stub := writeStubEngine(t, `cp "$4" "$3"`)
	sp := startServer(t, binary, stub)
	if sp == nil {
		t.Fatal("server did not start")
	}
}

func TestMetricsExposed(t *testing.T) {
	binary := getBinary(t)
	stub := writeStubEngine(t, `cp "$4" "$3"`)
	sp := startServer(t, binary, stub)

	resp, err := http.Get(sp.url + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	body := string(bodyBytes)

	if !strings.Contains(body, "scoreforge_http_requests_total") {
		t.Error("metrics output missing scoreforge_http_requests_total")
	}
	if !strings.Contains(body, "scoreforge_queue_depth") {
		t.Error("metrics output missing scoreforge_queue_depth")
	}
}

func TestConversionRoundTrip(t *testing.T) {
	binary := getBinary(t)
	stub := writeStubEngine(t, `cp "$4" "$3"`)
	sp := startServer(t, binary, stub)

	job := submitScore(t, sp.url, "sonata.musicxml", "pdf", []byte(scoreXML))
	id, _ := job["id"].(string)
	if id == "" {
		t.Fatalf("job id missing: %v", job)
	}

	resp, err := http.Get(sp.url + "/v1/jobs/" + id + "?wait=10s")
	if err != nil {
		t.Fatalf("GET with wait: %v", err)
	}
	var done map[string]any
	json.NewDecoder(resp.Body).Decode(&done)
	resp.Body.Close()
	if done["status"] != "succeeded" {
		t.Fatalf("status = %v, want succeeded\nserver log:\n%s", done["status"], sp.stdout.String())
	}

	artResp, err := http.Get(sp.url + "/v1/jobs/" + id + "/artifact")
	if err != nil {
		t.Fatalf("GET artifact: %v", err)
	}
	defer artResp.Body.Close()

	if artResp.StatusCode != 200 {
		t.Fatalf("artifact status = %d, want 200", artResp.StatusCode)
	}
	if ct := artResp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q, want application/pdf", ct)
	}
	data, _ := io.ReadAll(artResp.Body)
	if string(data) != scoreXML {
		t.Error("artifact bytes do not match stub output")
	}
}

func TestEngineFailureReported(t *testing.T) {
	binary := getBinary(t)
	stub := writeStubEngine(t, `echo "cannot read score" >&2; exit 1`)
	sp := startServer(t, binary, stub)

	job := submitScore(t, sp.url, "broken.musicxml", "pdf", []byte(scoreXML))
	id := job["id"].(string)

	resp, err := http.Get(sp.url + "/v1/jobs/" + id + "?wait=10s")
	if err != nil {
		t.Fatalf("GET with wait: %v", err)
	}
	var done map[string]any
	json.NewDecoder(resp.Body).Decode(&done)
	resp.Body.Close()

	if done["status"] != "failed" {
		t.Fatalf("status = %v, want failed", done["status"])
	}
	if done["failure_kind"] != "engine_error" {
		t.Errorf("failure_kind = %v, want engine_error", done["failure_kind"])
	}
}

func TestCancelRunningConversion(t *testing.T) {
	binary := getBinary(t)
	stub := writeStubEngine(t, `sleep 30`)
	sp := startServer(t, binary, stub)

	job := submitScore(t, sp.url, "slow.musicxml", "pdf", []byte(scoreXML))
	id := job["id"].(string)

	// Give the worker a moment to pick the job up.
	time.Sleep(300 * time.Millisecond)

	req, _ := http.NewRequest("DELETE", sp.url+"/v1/jobs/"+id, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()

	resp, err := http.Get(sp.url + "/v1/jobs/" + id + "?wait=10s")
	if err != nil {
		t.Fatalf("GET with wait: %v", err)
	}
	var done map[string]any
	json.NewDecoder(resp.Body).Decode(&done)
	resp.Body.Close()

	if done["status"] != "canceled" {
		t.Errorf("status = %v, want canceled", done["status"])
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	binary := getBinary(t)
	stub := writeStubEngine(t, `cp "$4" "$3"`)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	wsRoot := filepath.Join(t.TempDir(), "ws")
	env := append(os.Environ(),
		"SCOREFORGE_LISTEN_ADDR="+addr,
		"SCOREFORGE_DB_PATH="+dbPath,
		"SCOREFORGE_WORKSPACE_ROOT="+wsRoot,
		"SCOREFORGE_ENGINE_BIN="+stub,
	)
	url := "http://" + addr

	run := func() *exec.Cmd {
		cmd := exec.Command(binary)
		cmd.Env = env
		if err := cmd.Start(); err != nil {
			t.Fatalf("start server: %v", err)
		}
		deadline := time.Now().Add(startupTimeout)
		for time.Now().Before(deadline) {
			resp, err := http.Get(url + "/healthz")
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == 200 {
					return cmd
				}
			}
			time.Sleep(pollInterval)
		}
		t.Fatal("server did not become ready")
		return nil
	}

	first := run()
	job := submitScore(t, url, "sonata.musicxml", "pdf", []byte(scoreXML))
	id := job["id"].(string)

	resp, _ := http.Get(url + "/v1/jobs/" + id + "?wait=10s")
	resp.Body.Close()

	first.Process.Kill()
	first.Wait()

	second := run()
	defer func() {
		second.Process.Kill()
		second.Wait()
	}()

	// The job record outlives the process; the artifact does not.
	getResp, err := http.Get(url + "/v1/jobs/" + id)
	if err != nil {
		t.Fatalf("GET after restart: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", getResp.StatusCode)
	}
	var recovered map[string]any
	json.NewDecoder(getResp.Body).Decode(&recovered)
	if recovered["status"] != "succeeded" {
		t.Errorf("recovered status = %v, want succeeded", recovered["status"])
	}

	artResp, err := http.Get(url + "/v1/jobs/" + id + "/artifact")
	if err != nil {
		t.Fatalf("GET artifact after restart: %v", err)
	}
	defer artResp.Body.Close()
	if artResp.StatusCode != 404 {
		t.Errorf("artifact status after restart = %d, want 404", artResp.StatusCode)
	}
}

func TestRestartFailsInterruptedJob(t *testing.T) {
	binary := getBinary(t)
	stub := writeStubEngine(t, `sleep 30`)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	wsRoot := filepath.Join(t.TempDir(), "ws")
	env := append(os.Environ(),
		"SCOREFORGE_LISTEN_ADDR="+addr,
		"SCOREFORGE_DB_PATH="+dbPath,
		"SCOREFORGE_WORKSPACE_ROOT="+wsRoot,
		"SCOREFORGE_ENGINE_BIN="+stub,
	)
	url := "http://" + addr

	run := func() *exec.Cmd {
		cmd := exec.Command(binary)
		cmd.Env = env
		if err := cmd.Start(); err != nil {
			t.Fatalf("start server: %v", err)
		}
		deadline := time.Now().Add(startupTimeout)
		for time.Now().Before(deadline) {
			resp, err := http.Get(url + "/healthz")
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == 200 {
					return cmd
				}
			}
			time.Sleep(pollInterval)
		}
		t.Fatal("server did not become ready")
		return nil
	}

	first := run()
	job := submitScore(t, url, "slow.musicxml", "pdf", []byte(scoreXML))
	id := job["id"].(string)

	// Let the worker pick the job up, then kill the process mid-conversion.
	time.Sleep(300 * time.Millisecond)
	first.Process.Kill()
	first.Wait()

	second := run()
	defer func() {
		second.Process.Kill()
		second.Wait()
	}()

	// The restarted service cannot resume the conversion; the job must be
	// terminal and a status wait on it must resolve right away.
	resp, err := http.Get(url + "/v1/jobs/" + id + "?wait=5s")
	if err != nil {
		t.Fatalf("GET after restart: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var recovered map[string]any
	json.NewDecoder(resp.Body).Decode(&recovered)
	if recovered["status"] != "failed" {
		t.Errorf("status after restart = %v, want failed", recovered["status"])
	}
	if recovered["failure_kind"] != "interrupted" {
		t.Errorf("failure_kind = %v, want interrupted", recovered["failure_kind"])
	}
}
