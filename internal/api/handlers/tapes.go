// tapes.go — ленты, политики и правила монтирования.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/tape-catalogue/internal/api/errors"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// GetTape — GET /api/v1/tapes/{vid}.
func (h *APIHandler) GetTape(w http.ResponseWriter, r *http.Request) {
	tape, err := h.catalogue.GetTape(r.Context(), chi.URLParam(r, "vid"))
	if err != nil {
		h.fail(w, r, "get_tape", err)
		return
	}
	writeJSON(w, http.StatusOK, tape)
}

// CreateTape — PUT /api/v1/tapes/{vid}. Пустое тело — лента ACTIVE.
func (h *APIHandler) CreateTape(w http.ResponseWriter, r *http.Request) {
	var req createTapeRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	state := model.TapeStateActive
	if req.State != "" {
		var err error
		if state, err = model.ParseTapeState(req.State); err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
	}

	tape, err := h.catalogue.CreateTape(r.Context(), chi.URLParam(r, "vid"), state)
	if err != nil {
		h.fail(w, r, "create_tape", err)
		return
	}
	writeJSON(w, http.StatusCreated, tape)
}

// SetTapeState — PATCH /api/v1/tapes/{vid}/state.
func (h *APIHandler) SetTapeState(w http.ResponseWriter, r *http.Request) {
	var req setTapeStateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := model.ParseTapeState(req.State)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	tape, err := h.catalogue.SetTapeState(r.Context(), chi.URLParam(r, "vid"), state, req.Reason)
	if err != nil {
		h.fail(w, r, "set_tape_state", err)
		return
	}
	writeJSON(w, http.StatusOK, tape)
}

// ListRecycleLog — GET /api/v1/tapes/{vid}/recycle-log.
func (h *APIHandler) ListRecycleLog(w http.ResponseWriter, r *http.Request) {
	vid := chi.URLParam(r, "vid")
	entries, err := h.catalogue.ListRecycleLog(r.Context(), vid)
	if err != nil {
		h.fail(w, r, "list_recycle_log", err)
		return
	}
	if entries == nil {
		entries = []model.RecycleLogEntry{}
	}
	writeJSON(w, http.StatusOK, recycleLogResponse{VID: vid, Entries: entries})
}

// CreateMountPolicy — POST /api/v1/mount-policies.
func (h *APIHandler) CreateMountPolicy(w http.ResponseWriter, r *http.Request) {
	var policy model.MountPolicy
	if !decodeJSON(w, r, &policy) {
		return
	}
	if err := h.catalogue.CreateMountPolicy(r.Context(), &policy); err != nil {
		h.fail(w, r, "create_mount_policy", err)
		return
	}
	writeJSON(w, http.StatusCreated, policy)
}

// CreateMountRule — POST /api/v1/mount-rules/{kind}, kind: requester, group, activity.
func (h *APIHandler) CreateMountRule(w http.ResponseWriter, r *http.Request) {
	var req mountRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rule := &model.MountRule{
		Kind:            model.MountRuleKind(chi.URLParam(r, "kind")),
		DiskInstance:    req.DiskInstance,
		Name:            req.Name,
		ActivityRegex:   req.ActivityRegex,
		MountPolicyName: req.MountPolicy,
		Comment:         req.Comment,
	}
	if err := h.catalogue.CreateMountRule(r.Context(), rule); err != nil {
		h.fail(w, r, "create_mount_rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}
