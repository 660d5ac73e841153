package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	store "github.com/kernos-ai/kernos/internal/config/store"
	"github.com/kernos-ai/kernos/internal/host"
	"github.com/kernos-ai/kernos/internal/kernel"
	"github.com/kernos-ai/kernos/internal/kernel/jskernel"
	"github.com/kernos-ai/kernos/internal/protocol"
)

// TestHelperKernel re-runs the test binary as a real kernel process, so
// the gateway tests exercise the full spawn path over HTTP.
func TestHelperKernel(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	eval, err := jskernel.New()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := kernel.RestoreFromSnapshotEnv(eval); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cloner := kernel.NewRespawnCloner(os.Args[0], []string{"-test.run=TestHelperKernel"}, eval)
	if err := kernel.New(eval, kernel.WithCloner(cloner)).Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func startGateway(t *testing.T, m *host.Manager, opts ...GatewayOption) (*Gateway, string) {
	t.Helper()

	g := NewGateway(m, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	if err := g.Start(ctx, "127.0.0.1:0"); err != nil {
		cancel()
		t.Fatalf("start gateway: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = g.Shutdown(shutdownCtx)
		cancel()
		m.Shutdown(context.Background())
	})
	return g, "http://" + g.Addr()
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func spawnGatewaySession(t *testing.T, baseURL string) sessionDTO {
	t.Helper()

	resp := postJSON(t, baseURL+"/sessions", spawnRequest{
		Kernel:  "js",
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperKernel"},
		Env:     map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from spawn, got %d", resp.StatusCode)
	}
	return decodeBody[sessionDTO](t, resp)
}

func TestGatewaySpawnEvalTerminate(t *testing.T) {
	_, baseURL := startGateway(t, host.NewManager())
	sess := spawnGatewaySession(t, baseURL)

	resp := postJSON(t, baseURL+"/sessions/"+sess.ID+"/tasks", taskRequest{Op: "eval", Code: "6 * 7"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from eval, got %d", resp.StatusCode)
	}
	result := decodeBody[taskResponse](t, resp)
	if len(result.Values) != 1 || string(result.Values[0]) != "42" {
		t.Fatalf("expected 42, got %+v", result.Values)
	}

	req, err := http.NewRequest(http.MethodDelete, baseURL+"/sessions/"+sess.ID, nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("terminate session: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from terminate, got %d", delResp.StatusCode)
	}

	getResp, err := http.Get(baseURL + "/sessions/" + sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after terminate, got %d", getResp.StatusCode)
	}
}

func TestGatewayListsSessions(t *testing.T) {
	_, baseURL := startGateway(t, host.NewManager())
	sess := spawnGatewaySession(t, baseURL)

	resp, err := http.Get(baseURL + "/sessions")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	sessions := decodeBody[[]sessionDTO](t, resp)
	if len(sessions) != 1 || sessions[0].ID != sess.ID {
		t.Fatalf("unexpected session list: %+v", sessions)
	}
}

func TestGatewayTaskValidation(t *testing.T) {
	_, baseURL := startGateway(t, host.NewManager())

	resp := postJSON(t, baseURL+"/sessions/nope/tasks", taskRequest{Op: "launch"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown op, got %d", resp.StatusCode)
	}

	resp = postJSON(t, baseURL+"/sessions/nope/tasks", taskRequest{Op: "get"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for get without name, got %d", resp.StatusCode)
	}

	resp = postJSON(t, baseURL+"/sessions/nope/tasks", taskRequest{Op: "eval", Code: "1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.StatusCode)
	}
}

func TestBuildTaskCompactsSetValue(t *testing.T) {
	task, err := buildTask(taskRequest{
		Op:    "set",
		Name:  "cfg",
		Value: json.RawMessage("{\n  \"a\": 1,\n  \"b\": [1, 2]\n}"),
	})
	if err != nil {
		t.Fatalf("buildTask: %v", err)
	}
	if task.Value != `{"a":1,"b":[1,2]}` {
		t.Fatalf("value not compacted: %q", task.Value)
	}
	if _, err := protocol.EncodeTask(task); err != nil {
		t.Fatalf("compacted value must encode onto one frame: %v", err)
	}

	if _, err := buildTask(taskRequest{Op: "set", Name: "cfg", Value: json.RawMessage("{")}); err == nil {
		t.Fatal("expected an error for an invalid JSON value")
	}
}

func TestGatewaySetAcceptsIndentedJSON(t *testing.T) {
	_, baseURL := startGateway(t, host.NewManager())
	sess := spawnGatewaySession(t, baseURL)

	// Raw body with newlines inside the value. Before compaction these
	// would split the SET frame into several wire lines and desync the
	// session's readiness accounting.
	body := "{\"op\":\"set\",\"name\":\"cfg\",\"value\":{\n  \"a\": 1,\n  \"b\": [1, 2]\n}}"
	resp, err := http.Post(baseURL+"/sessions/"+sess.ID+"/tasks", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST set: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from set, got %d", resp.StatusCode)
	}

	// The session must still answer follow-up tasks in lockstep.
	evalResp := postJSON(t, baseURL+"/sessions/"+sess.ID+"/tasks", taskRequest{Op: "eval", Code: "cfg.a + cfg.b.length"})
	if evalResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from eval, got %d", evalResp.StatusCode)
	}
	result := decodeBody[taskResponse](t, evalResp)
	if len(result.Values) != 1 || string(result.Values[0]) != "3" {
		t.Fatalf("expected 3, got %+v", result.Values)
	}
}

func TestGatewaySpawnRequiresCommandOrKernel(t *testing.T) {
	_, baseURL := startGateway(t, host.NewManager())

	resp := postJSON(t, baseURL+"/sessions", spawnRequest{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func openGatewayStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(store.Options{
		InstanceName: "gateway-test",
		DBPath:       filepath.Join(t.TempDir(), "kernos.db"),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGatewayKernelspecRegistry(t *testing.T) {
	s := openGatewayStore(t)
	_, baseURL := startGateway(t, host.NewManager(), WithSpecStore(s))

	resp := postJSON(t, baseURL+"/kernelspecs", kernelspecDTO{
		Name:     "js",
		Language: "javascript",
		Command:  "/usr/local/bin/kernos",
		Args:     []string{"kernel"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from register, got %d", resp.StatusCode)
	}

	manifest := "name: js2\nlanguage: javascript\ncommand: /usr/local/bin/kernos\n"
	yamlResp, err := http.Post(baseURL+"/kernelspecs", "application/yaml", strings.NewReader(manifest))
	if err != nil {
		t.Fatalf("register manifest: %v", err)
	}
	yamlResp.Body.Close()
	if yamlResp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from manifest register, got %d", yamlResp.StatusCode)
	}

	listResp, err := http.Get(baseURL + "/kernelspecs")
	if err != nil {
		t.Fatalf("list kernelspecs: %v", err)
	}
	specs := decodeBody[[]kernelspecDTO](t, listResp)
	if len(specs) != 2 {
		t.Fatalf("expected two kernelspecs, got %+v", specs)
	}

	req, err := http.NewRequest(http.MethodDelete, baseURL+"/kernelspecs/js2", nil)
	if err != nil {
		t.Fatalf("build delete request: %v", err)
	}
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete kernelspec: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from delete, got %d", delResp.StatusCode)
	}

	getResp, err := http.Get(baseURL + "/kernelspecs/js2")
	if err != nil {
		t.Fatalf("get kernelspec: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", getResp.StatusCode)
	}
}

func TestGatewaySpawnsByKernelspecName(t *testing.T) {
	s := openGatewayStore(t)
	_, baseURL := startGateway(t, host.NewManager(), WithSpecStore(s))

	resp := postJSON(t, baseURL+"/kernelspecs", kernelspecDTO{
		Name:     "js",
		Language: "javascript",
		Command:  os.Args[0],
		Args:     []string{"-test.run=TestHelperKernel"},
		Env:      map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from register, got %d", resp.StatusCode)
	}

	spawnResp := postJSON(t, baseURL+"/sessions", spawnRequest{Kernel: "js"})
	if spawnResp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from spawn, got %d", spawnResp.StatusCode)
	}
	sess := decodeBody[sessionDTO](t, spawnResp)
	if sess.Kernel != "js" {
		t.Fatalf("expected kernel js, got %q", sess.Kernel)
	}

	taskResp := postJSON(t, baseURL+"/sessions/"+sess.ID+"/tasks", taskRequest{Op: "eval", Code: "2 + 2"})
	if taskResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from eval, got %d", taskResp.StatusCode)
	}
	result := decodeBody[taskResponse](t, taskResp)
	if len(result.Values) != 1 || string(result.Values[0]) != "4" {
		t.Fatalf("expected 4, got %+v", result.Values)
	}
}

func TestGatewayStatus(t *testing.T) {
	_, baseURL := startGateway(t, host.NewManager())

	resp, err := http.Get(baseURL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	status := decodeBody[statusResponse](t, resp)
	if status.Version == "" {
		t.Fatal("expected a version string")
	}
	if status.Sessions != 0 {
		t.Fatalf("expected zero sessions, got %d", status.Sessions)
	}
}
