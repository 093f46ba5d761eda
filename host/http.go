package host

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// APIHandler serves the host's plugin administration endpoints.
type APIHandler struct {
	manager *Manager
}

// NewAPIHandler creates a handler backed by a Manager.
func NewAPIHandler(manager *Manager) *APIHandler {
	return &APIHandler{manager: manager}
}

// RegisterRoutes registers the plugin API routes on the given mux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/plugins", h.handlePlugins)
	mux.HandleFunc("/api/plugins/", h.handlePluginByID)
	mux.HandleFunc("/api/schema/tables", h.handleSchemaTables)
}

func (h *APIHandler) handleSchemaTables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.manager.SchemaTables())
}

func (h *APIHandler) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.manager.Statuses())
}

// handlePluginByID dispatches /api/plugins/{id}[/action...].
func (h *APIHandler) handlePluginByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/plugins/")
	if rest == "" {
		http.Error(w, "plugin id required", http.StatusBadRequest)
		return
	}
	id, action, _ := strings.Cut(rest, "/")

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.getPlugin(w, id)
	case action == "" && r.Method == http.MethodDelete:
		h.removePlugin(w, id)
	case action == "extensions" && r.Method == http.MethodGet:
		h.getExtensions(w, id)
	case action == "enable" && r.Method == http.MethodPost:
		h.enablePlugin(w, r, id)
	case action == "disable" && r.Method == http.MethodPost:
		h.disablePlugin(w, id)
	case action == "bundle" && r.Method == http.MethodGet:
		h.getBundle(w, id)
	case strings.HasPrefix(action, "commands/") && r.Method == http.MethodPost:
		h.invokeCommand(w, r, id, strings.TrimPrefix(action, "commands/"))
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *APIHandler) getPlugin(w http.ResponseWriter, id string) {
	mf, ok := h.manager.Manifest(id)
	if !ok {
		http.Error(w, "plugin not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, mf)
}

func (h *APIHandler) removePlugin(w http.ResponseWriter, id string) {
	if err := h.manager.Remove(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) getExtensions(w http.ResponseWriter, id string) {
	exts, err := h.manager.SchemaExtensions(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, exts)
}

func (h *APIHandler) enablePlugin(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.manager.Enable(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) disablePlugin(w http.ResponseWriter, id string) {
	if err := h.manager.Disable(id); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) getBundle(w http.ResponseWriter, id string) {
	bundle, ok := h.manager.FrontendBundle(id)
	if !ok {
		http.Error(w, "plugin has no frontend bundle", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/javascript")
	_, _ = w.Write(bundle)
}

// commandError is the structured failure body for command invocations.
type commandError struct {
	Error string `json:"error"`
}

func (h *APIHandler) invokeCommand(w http.ResponseWriter, r *http.Request, id, name string) {
	if name == "" {
		http.Error(w, "command name required", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.Body.Close() }()

	params := json.RawMessage(body)
	if len(body) == 0 {
		params = json.RawMessage("{}")
	} else if !json.Valid(body) {
		http.Error(w, "params must be valid JSON", http.StatusBadRequest)
		return
	}

	result, err := h.manager.InvokeCommand(r.Context(), id, name, params)
	if err != nil {
		// Command failures are structured results, not transport errors.
		writeJSON(w, http.StatusUnprocessableEntity, commandError{Error: err.Error()})
		return
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
