package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	store "github.com/kernos-ai/kernos/internal/config/store"
	"github.com/kernos-ai/kernos/internal/constants"
	"github.com/kernos-ai/kernos/internal/host"
	"github.com/kernos-ai/kernos/internal/protocol"
	"github.com/kernos-ai/kernos/internal/schema"
)

type sessionDTO struct {
	ID       string    `json:"id"`
	Kernel   string    `json:"kernel"`
	PID      int       `json:"pid"`
	Started  time.Time `json:"started"`
	Children []string  `json:"children,omitempty"`
}

func toSessionDTO(s *host.Session) sessionDTO {
	dto := sessionDTO{
		ID:      s.ID,
		Kernel:  s.Kernel,
		PID:     s.PID,
		Started: s.Started,
	}
	for _, child := range s.Children() {
		dto.Children = append(dto.Children, child.ID)
	}
	sort.Strings(dto.Children)
	return dto
}

type spawnRequest struct {
	Kernel  string            `json:"kernel,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Dir     string            `json:"dir,omitempty"`
}

type taskRequest struct {
	Op        string          `json:"op"`
	Code      string          `json:"code,omitempty"`
	Name      string          `json:"name,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	TimeoutMs int             `json:"timeout_ms,omitempty"`
}

type taskResponse struct {
	Values   []json.RawMessage         `json:"values"`
	Messages []schema.ExecutionMessage `json:"messages,omitempty"`
}

func (g *Gateway) handleSessionsRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		g.handleSessionsList(w, r)
	case http.MethodPost:
		g.handleSessionSpawn(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (g *Gateway) handleSessionsList(w http.ResponseWriter, _ *http.Request) {
	sessions := g.manager.Sessions()
	dto := make([]sessionDTO, 0, len(sessions))
	for _, s := range sessions {
		dto = append(dto, toSessionDTO(s))
	}
	sort.Slice(dto, func(i, j int) bool { return dto[i].Started.Before(dto[j].Started) })
	writeJSON(w, http.StatusOK, dto)
}

func (g *Gateway) handleSessionSpawn(w http.ResponseWriter, r *http.Request) {
	var payload spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}

	spec, err := g.resolveSpawnSpec(r.Context(), payload)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := g.manager.Spawn(r.Context(), spec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to spawn session: %v", err))
		return
	}
	writeJSON(w, http.StatusCreated, toSessionDTO(sess))
}

// resolveSpawnSpec builds a spawn spec from the request, consulting the
// kernelspec registry when only a kernel name is given.
func (g *Gateway) resolveSpawnSpec(ctx context.Context, payload spawnRequest) (host.SpawnSpec, error) {
	if strings.TrimSpace(payload.Command) != "" {
		return host.SpawnSpec{
			Kernel:  payload.Kernel,
			Command: payload.Command,
			Args:    payload.Args,
			Env:     flattenEnv(payload.Env),
			Dir:     payload.Dir,
		}, nil
	}

	name := strings.TrimSpace(payload.Kernel)
	if name == "" {
		return host.SpawnSpec{}, errors.New("command or kernel is required")
	}
	if g.specs == nil {
		return host.SpawnSpec{}, errors.New("kernelspec registry unavailable")
	}

	ks, err := g.specs.GetKernelspec(ctx, name)
	if err != nil {
		return host.SpawnSpec{}, err
	}

	env := make(map[string]string, len(ks.Env)+len(payload.Env))
	for k, v := range ks.Env {
		env[k] = v
	}
	for k, v := range payload.Env {
		env[k] = v
	}

	return host.SpawnSpec{
		Kernel:  ks.Name,
		Command: ks.Command,
		Args:    append(append([]string{}, ks.Args...), payload.Args...),
		Env:     flattenEnv(env),
		Dir:     payload.Dir,
	}, nil
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func (g *Gateway) handleSessionSubroutes(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if trimmed == "" || trimmed == "/" {
		g.handleSessionsRoot(w, r)
		return
	}

	parts := strings.Split(trimmed, "/")
	sessionID := strings.TrimSpace(parts[0])
	if sessionID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			g.handleSessionGet(w, r, sessionID)
		case http.MethodDelete:
			g.handleSessionTerminate(w, r, sessionID)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 2:
		switch parts[1] {
		case "tasks":
			g.requirePost(w, r, sessionID, g.handleSessionTask)
		case "fork":
			g.requirePost(w, r, sessionID, g.handleSessionFork)
		case "interrupt":
			g.requirePost(w, r, sessionID, g.handleSessionInterrupt)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (g *Gateway) requirePost(w http.ResponseWriter, r *http.Request, sessionID string, handler func(http.ResponseWriter, *http.Request, string)) {
	switch r.Method {
	case http.MethodPost:
		handler(w, r, sessionID)
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (g *Gateway) handleSessionGet(w http.ResponseWriter, _ *http.Request, sessionID string) {
	sess, err := g.manager.Session(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", sessionID))
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(sess))
}

func (g *Gateway) handleSessionTerminate(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := g.manager.Terminate(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", sessionID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleSessionTask(w http.ResponseWriter, r *http.Request, sessionID string) {
	var payload taskRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON payload: %v", err))
		return
	}

	task, err := buildTask(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	timeout := time.Duration(payload.TimeoutMs) * time.Millisecond
	result, err := g.manager.Submit(r.Context(), sessionID, task, timeout)
	switch {
	case errors.Is(err, host.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", sessionID))
	case errors.Is(err, host.ErrSessionClosed):
		writeError(w, http.StatusConflict, fmt.Sprintf("session %s is closed", sessionID))
	case errors.Is(err, host.ErrTimeout):
		if timeout <= 0 {
			timeout = constants.KernelTaskTimeout
		}
		writeJSON(w, http.StatusGatewayTimeout, taskResponse{
			Messages: []schema.ExecutionMessage{host.TimeoutMessage(timeout)},
		})
	case errors.Is(err, host.ErrKernelCrashed):
		writeError(w, http.StatusBadGateway, fmt.Sprintf("session %s: kernel crashed", sessionID))
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, taskResponse{Values: result.Values, Messages: result.Messages})
	}
}

// buildTask maps a task request onto a wire task. Fork is excluded: it
// has its own route because the host owns the FIFO plumbing.
func buildTask(payload taskRequest) (protocol.Task, error) {
	op := strings.ToLower(strings.TrimSpace(payload.Op))
	switch op {
	case "exec":
		if payload.Code == "" {
			return protocol.Task{}, errors.New("exec requires code")
		}
		return protocol.Exec(payload.Code), nil
	case "eval":
		if payload.Code == "" {
			return protocol.Task{}, errors.New("eval requires code")
		}
		return protocol.Eval(payload.Code), nil
	case "info":
		return protocol.Task{Tag: protocol.TagInfo}, nil
	case "pkgs":
		return protocol.Task{Tag: protocol.TagPkgs}, nil
	case "list":
		return protocol.Task{Tag: protocol.TagList}, nil
	case "get":
		if payload.Name == "" {
			return protocol.Task{}, errors.New("get requires a variable name")
		}
		return protocol.Task{Tag: protocol.TagGet, Name: payload.Name}, nil
	case "set":
		if payload.Name == "" {
			return protocol.Task{}, errors.New("set requires a variable name")
		}
		if len(payload.Value) == 0 {
			return protocol.Task{}, errors.New("set requires a JSON value")
		}
		// Clients may send indented JSON; the wire frame is line-oriented,
		// so the value must be collapsed onto one line before encoding.
		var compact bytes.Buffer
		if err := json.Compact(&compact, payload.Value); err != nil {
			return protocol.Task{}, fmt.Errorf("set value is not valid JSON: %w", err)
		}
		return protocol.Task{Tag: protocol.TagSet, Name: payload.Name, Value: compact.String()}, nil
	case "remove":
		if payload.Name == "" {
			return protocol.Task{}, errors.New("remove requires a variable name")
		}
		return protocol.Task{Tag: protocol.TagRemove, Name: payload.Name}, nil
	case "box":
		return protocol.Task{Tag: protocol.TagBox}, nil
	default:
		return protocol.Task{}, fmt.Errorf("unknown op %q", payload.Op)
	}
}

func (g *Gateway) handleSessionFork(w http.ResponseWriter, r *http.Request, sessionID string) {
	child, err := g.manager.Fork(r.Context(), sessionID)
	switch {
	case errors.Is(err, host.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", sessionID))
	case errors.Is(err, host.ErrForkUnsupported):
		writeError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, host.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, fmt.Sprintf("fork of %s timed out", sessionID))
	case errors.Is(err, host.ErrKernelCrashed):
		writeError(w, http.StatusBadGateway, fmt.Sprintf("fork of %s: kernel crashed", sessionID))
	case err != nil:
		// Covers refusals too, e.g. a boxed kernel denying the fork.
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeJSON(w, http.StatusCreated, toSessionDTO(child))
	}
}

func (g *Gateway) handleSessionInterrupt(w http.ResponseWriter, _ *http.Request, sessionID string) {
	if err := g.manager.Interrupt(sessionID); err != nil {
		if errors.Is(err, host.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", sessionID))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
