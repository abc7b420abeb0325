// archive_files.go — пакеты записи, вывод копий и подготовка восстановления.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/tape-catalogue/internal/api/errors"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/api/middleware"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/catalogue"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// RecordWriteBatch — POST /api/v1/write-batches.
// Пакет фиксируется целиком или отклоняется целиком.
func (h *APIHandler) RecordWriteBatch(w http.ResponseWriter, r *http.Request) {
	var req writeBatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	items, err := req.toModel()
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	recycled, err := h.catalogue.RecordTapeWriteBatch(r.Context(), items)
	if err != nil {
		h.fail(w, r, "record_write_batch", err)
		return
	}
	if recycled == nil {
		recycled = []model.RecycleLogEntry{}
	}
	writeJSON(w, http.StatusCreated, writeBatchResponse{Items: len(items), Recycled: recycled})
}

// RetireCopy — POST /api/v1/archive-files/{id}/retire.
func (h *APIHandler) RetireCopy(w http.ResponseWriter, r *http.Request) {
	id, ok := archiveFileIDParam(w, r)
	if !ok {
		return
	}
	var req retireRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	entry, err := h.catalogue.RetireTapeFileCopy(r.Context(), catalogue.RetireRequest{
		ArchiveFileID: id,
		VID:           req.VID,
		DiskInstance:  req.DiskInstance,
		DiskFileID:    req.DiskFileID,
		CopyNb:        req.CopyNb,
		Reason:        req.Reason,
	})
	if err != nil {
		h.fail(w, r, "retire_copy", err)
		return
	}

	h.logger.Info("Копия выведена через API",
		slog.Uint64("archive_file_id", id),
		slog.String("vid", entry.VID),
		slog.String("subject", middleware.SubjectFromContext(r.Context())),
	)
	writeJSON(w, http.StatusOK, entry)
}

// PrepareRetrieve — POST /api/v1/archive-files/{id}/retrieve.
// Без явного requester.name используется preferred_username из токена.
func (h *APIHandler) PrepareRetrieve(w http.ResponseWriter, r *http.Request) {
	id, ok := archiveFileIDParam(w, r)
	if !ok {
		return
	}
	var req retrieveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Requester.Name == "" {
		if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
			req.Requester.Name = claims.PreferredUsername
		}
	}
	if req.DiskInstance == "" || req.Requester.Name == "" {
		apierrors.ValidationError(w, "disk_instance и requester.name обязательны")
		return
	}

	criteria, err := h.catalogue.PrepareRetrieve(r.Context(), req.DiskInstance, id, req.Requester, req.Activity)
	if err != nil {
		h.fail(w, r, "prepare_retrieve", err)
		return
	}
	writeJSON(w, http.StatusOK, criteria)
}

// GetArchiveFile — GET /api/v1/archive-files/{id}.
func (h *APIHandler) GetArchiveFile(w http.ResponseWriter, r *http.Request) {
	id, ok := archiveFileIDParam(w, r)
	if !ok {
		return
	}
	af, err := h.catalogue.GetArchiveFile(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get_archive_file", err)
		return
	}
	writeJSON(w, http.StatusOK, af)
}
