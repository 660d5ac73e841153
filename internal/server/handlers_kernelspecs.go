package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	store "github.com/kernos-ai/kernos/internal/config/store"
	"github.com/kernos-ai/kernos/internal/kernelspec"
)

type kernelspecDTO struct {
	Name     string            `json:"name"`
	Language string            `json:"language"`
	Command  string            `json:"command"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

func toKernelspecDTO(spec store.Kernelspec) kernelspecDTO {
	return kernelspecDTO{
		Name:     spec.Name,
		Language: spec.Language,
		Command:  spec.Command,
		Args:     spec.Args,
		Env:      spec.Env,
	}
}

func (g *Gateway) handleKernelspecsRoot(w http.ResponseWriter, r *http.Request) {
	if g.specs == nil {
		writeError(w, http.StatusServiceUnavailable, "kernelspec registry unavailable")
		return
	}

	switch r.Method {
	case http.MethodGet:
		specs, err := g.specs.ListKernelspecs(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		dto := make([]kernelspecDTO, 0, len(specs))
		for _, spec := range specs {
			dto = append(dto, toKernelspecDTO(spec))
		}
		writeJSON(w, http.StatusOK, dto)
	case http.MethodPost:
		g.handleKernelspecRegister(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleKernelspecRegister accepts either a JSON kernelspec or, with a
// YAML content type, a raw manifest document.
func (g *Gateway) handleKernelspecRegister(w http.ResponseWriter, r *http.Request) {
	spec, err := decodeKernelspecBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := g.specs.UpsertKernelspec(r.Context(), spec); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toKernelspecDTO(spec))
}

func decodeKernelspecBody(r *http.Request) (store.Kernelspec, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "yaml") {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return store.Kernelspec{}, fmt.Errorf("read manifest body: %w", err)
		}
		manifest, err := kernelspec.Parse(body)
		if err != nil {
			return store.Kernelspec{}, err
		}
		return store.Kernelspec{
			Name:     manifest.Name,
			Language: manifest.Language,
			Command:  manifest.Command,
			Args:     manifest.Args,
			Env:      manifest.Env,
			Manifest: string(body),
		}, nil
	}

	var dto kernelspecDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		return store.Kernelspec{}, fmt.Errorf("invalid JSON payload: %w", err)
	}
	manifest := kernelspec.Manifest{
		Name:     dto.Name,
		Language: dto.Language,
		Command:  dto.Command,
		Args:     dto.Args,
		Env:      dto.Env,
	}
	if err := manifest.Validate(); err != nil {
		return store.Kernelspec{}, err
	}
	return store.Kernelspec{
		Name:     dto.Name,
		Language: dto.Language,
		Command:  dto.Command,
		Args:     dto.Args,
		Env:      dto.Env,
	}, nil
}

func (g *Gateway) handleKernelspecSubroutes(w http.ResponseWriter, r *http.Request) {
	if g.specs == nil {
		writeError(w, http.StatusServiceUnavailable, "kernelspec registry unavailable")
		return
	}

	trimmed := strings.TrimPrefix(r.URL.Path, "/kernelspecs/")
	if trimmed == "" || trimmed == "/" {
		g.handleKernelspecsRoot(w, r)
		return
	}
	name := strings.TrimSpace(strings.TrimSuffix(trimmed, "/"))
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		spec, err := g.specs.GetKernelspec(r.Context(), name)
		if err != nil {
			if store.IsNotFound(err) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("kernelspec %s not found", name))
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toKernelspecDTO(spec))
	case http.MethodDelete:
		if err := g.specs.DeleteKernelspec(r.Context(), name); err != nil {
			if store.IsNotFound(err) {
				writeError(w, http.StatusNotFound, fmt.Sprintf("kernelspec %s not found", name))
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
