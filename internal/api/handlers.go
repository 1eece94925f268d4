package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/marginalia/internal/artifact"
	"github.com/starford/marginalia/internal/service"
)

// Handler holds API route handlers.
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// document returns the required ?document= query parameter.
func document(w http.ResponseWriter, r *http.Request) (string, bool) {
	doc := r.URL.Query().Get("document")
	if doc == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("document is required"))
		return "", false
	}
	return doc, true
}

// readerPosition parses the optional ?progress= and ?sensitivity= parameters.
func readerPosition(r *http.Request) (service.ReaderPosition, bool) {
	q := r.URL.Query()
	var pos service.ReaderPosition
	if raw := q.Get("progress"); raw != "" {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p < 0 || p > 1 {
			return pos, false
		}
		pos.Progress = &p
	}
	switch strings.ToLower(q.Get("sensitivity")) {
	case "", "position":
		pos.Sensitivity = artifact.PositionSensitive
	case "none", "insensitive":
		pos.Sensitivity = artifact.PositionInsensitive
	default:
		return pos, false
	}
	return pos, true
}

// ListArtifacts handles GET /artifacts.
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	doc, ok := document(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListArtifacts(r.Context(), doc)
	if err != nil {
		writeError(w, "list artifacts", err)
		return
	}
	writeJSON(w, http.StatusOK, ArtifactListResponse{Document: doc, Artifacts: list})
}

// ClearArtifacts handles DELETE /artifacts.
func (h *Handler) ClearArtifacts(w http.ResponseWriter, r *http.Request) {
	doc, ok := document(w, r)
	if !ok {
		return
	}
	if err := h.svc.ClearArtifact(r.Context(), doc, ""); err != nil {
		writeError(w, "clear artifacts", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetArtifact handles GET /artifacts/{action}.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	doc, ok := document(w, r)
	if !ok {
		return
	}
	pos, ok := readerPosition(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid progress or sensitivity"))
		return
	}
	view, err := h.svc.GetArtifact(r.Context(), doc, chi.URLParam(r, "action"), pos)
	if err != nil {
		writeError(w, "get artifact", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// PutArtifact handles PUT /artifacts/{action}.
func (h *Handler) PutArtifact(w http.ResponseWriter, r *http.Request) {
	doc, ok := document(w, r)
	if !ok {
		return
	}
	var e artifact.Entry
	if !decodeBody(w, r, &e) {
		return
	}
	saved, err := h.svc.PutArtifact(r.Context(), doc, chi.URLParam(r, "action"), e)
	if err != nil {
		writeError(w, "put artifact", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// ClearArtifact handles DELETE /artifacts/{action}.
func (h *Handler) ClearArtifact(w http.ResponseWriter, r *http.Request) {
	doc, ok := document(w, r)
	if !ok {
		return
	}
	if err := h.svc.ClearArtifact(r.Context(), doc, chi.URLParam(r, "action")); err != nil {
		writeError(w, "clear artifact", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateArtifact handles POST /artifacts/{action}/update.
func (h *Handler) UpdateArtifact(w http.ResponseWriter, r *http.Request) {
	doc, ok := document(w, r)
	if !ok {
		return
	}
	var req RegenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	e, err := h.svc.UpdateArtifact(r.Context(), doc, chi.URLParam(r, "action"), req.Result, *req.Progress, req.Meta)
	if err != nil {
		writeError(w, "update artifact", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// RedoArtifact handles POST /artifacts/{action}/redo.
func (h *Handler) RedoArtifact(w http.ResponseWriter, r *http.Request) {
	doc, ok := document(w, r)
	if !ok {
		return
	}
	var req RegenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	e, err := h.svc.RedoArtifact(r.Context(), doc, chi.URLParam(r, "action"), req.Result, *req.Progress, req.Meta)
	if err != nil {
		writeError(w, "redo artifact", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// DismissNotice handles POST /artifacts/{action}/dismiss.
func (h *Handler) DismissNotice(w http.ResponseWriter, r *http.Request) {
	doc, ok := document(w, r)
	if !ok {
		return
	}
	if err := h.svc.DismissNotice(r.Context(), doc, chi.URLParam(r, "action")); err != nil {
		writeError(w, "dismiss notice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPosition handles PUT /position.
func (h *Handler) SetPosition(w http.ResponseWriter, r *http.Request) {
	doc, ok := document(w, r)
	if !ok {
		return
	}
	var req PositionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.SetPosition(r.Context(), doc, *req.Progress, req.HiddenFlows); err != nil {
		writeError(w, "set position", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveDocument handles POST /documents/move.
func (h *Handler) MoveDocument(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.MoveDocument(r.Context(), req.OldPath, req.NewPath); err != nil {
		writeError(w, "move document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetNotebook handles GET /notebook.
func (h *Handler) GetNotebook(w http.ResponseWriter, r *http.Request) {
	doc, ok := document(w, r)
	if !ok {
		return
	}
	nb, err := h.svc.GetNotebook(r.Context(), doc)
	if err != nil {
		writeError(w, "get notebook", err)
		return
	}
	w.Header().Set("ETag", `"`+nb.Checksum+`"`)
	writeJSON(w, http.StatusOK, nb)
}

// PutNotebook handles PUT /notebook with optional If-Match.
func (h *Handler) PutNotebook(w http.ResponseWriter, r *http.Request) {
	doc, ok := document(w, r)
	if !ok {
		return
	}
	var req NotebookRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`)
	nb, err := h.svc.PutNotebook(r.Context(), doc, req.Content, ifMatch)
	if err != nil {
		writeError(w, "put notebook", err)
		return
	}
	w.Header().Set("ETag", `"`+nb.Checksum+`"`)
	writeJSON(w, http.StatusOK, nb)
}

// DeleteNotebook handles DELETE /notebook.
func (h *Handler) DeleteNotebook(w http.ResponseWriter, r *http.Request) {
	doc, ok := document(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteNotebook(r.Context(), doc); err != nil {
		writeError(w, "delete notebook", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListChats handles GET /chats.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	doc, ok := document(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListChats(r.Context(), doc)
	if err != nil {
		writeError(w, "list chats", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document": doc, "chats": list})
}

// IndexRecord handles GET /index/{name}. Without ?document= it lists the
// indexed documents.
func (h *Handler) IndexRecord(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	doc := r.URL.Query().Get("document")
	if doc == "" {
		paths, err := h.svc.IndexPaths(r.Context(), name)
		if err != nil {
			writeError(w, "index paths", err)
			return
		}
		if paths == nil {
			paths = []string{}
		}
		writeJSON(w, http.StatusOK, IndexPathsResponse{Index: name, Paths: paths})
		return
	}
	rec, err := h.svc.IndexRecord(r.Context(), name, doc)
	if err != nil {
		writeError(w, "index record", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Migration handles GET /migration.
func (h *Handler) Migration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Migration(r.Context()))
}
