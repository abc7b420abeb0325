// handler.go — основной обработчик API каталога.
// Объединяет health и бизнес-обработчики, делегирующие в catalogue.Catalogue.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/tape-catalogue/internal/api/errors"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/catalogue"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// maxBodyBytes — предел размера тела запроса (пакет записи может быть большим).
const maxBodyBytes = 32 << 20

// Catalogue — операции каталога, которые использует API.
type Catalogue interface {
	RecordTapeWriteBatch(ctx context.Context, items []model.TapeItemWritten) ([]model.RecycleLogEntry, error)
	RetireTapeFileCopy(ctx context.Context, req catalogue.RetireRequest) (*model.RecycleLogEntry, error)
	PrepareRetrieve(ctx context.Context, diskInstance string, archiveFileID uint64,
		requester model.RequesterIdentity, activity string) (*model.RetrieveQueueCriteria, error)

	GetArchiveFile(ctx context.Context, archiveFileID uint64) (*model.ArchiveFile, error)
	GetTape(ctx context.Context, vid string) (*model.Tape, error)
	ListRecycleLog(ctx context.Context, vid string) ([]model.RecycleLogEntry, error)

	CreateTape(ctx context.Context, vid string, state model.TapeState) (*model.Tape, error)
	SetTapeState(ctx context.Context, vid string, state model.TapeState, reason string) (*model.Tape, error)
	CreateMountPolicy(ctx context.Context, policy *model.MountPolicy) error
	CreateMountRule(ctx context.Context, rule *model.MountRule) error
}

// APIHandler — основной обработчик API каталога.
type APIHandler struct {
	catalogue Catalogue
	health    *HealthHandler
	logger    *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(cat Catalogue, health *HealthHandler, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		catalogue: cat,
		health:    health,
		logger:    logger.With(slog.String("component", "api_handler")),
	}
}

// Guards — middleware авторизации групп маршрутов.
// nil — маршруты группы открыты (аутентификация выключена).
type Guards struct {
	Read  func(http.Handler) http.Handler
	Write func(http.Handler) http.Handler
	Admin func(http.Handler) http.Handler
}

// Routes регистрирует все маршруты API на router.
func (h *APIHandler) Routes(r chi.Router, g Guards) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			use(r, g.Write)
			r.Post("/write-batches", h.RecordWriteBatch)
		})

		r.Group(func(r chi.Router) {
			use(r, g.Read)
			r.Get("/archive-files/{id}", h.GetArchiveFile)
			r.Post("/archive-files/{id}/retrieve", h.PrepareRetrieve)
			r.Get("/tapes/{vid}", h.GetTape)
			r.Get("/tapes/{vid}/recycle-log", h.ListRecycleLog)
		})

		r.Group(func(r chi.Router) {
			use(r, g.Admin)
			r.Post("/archive-files/{id}/retire", h.RetireCopy)
			r.Put("/tapes/{vid}", h.CreateTape)
			r.Patch("/tapes/{vid}/state", h.SetTapeState)
			r.Post("/mount-policies", h.CreateMountPolicy)
			r.Post("/mount-rules/{kind}", h.CreateMountRule)
		})
	})
}

func use(r chi.Router, mw func(http.Handler) http.Handler) {
	if mw != nil {
		r.Use(mw)
	}
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса. Неизвестные поля отклоняются.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %v", err))
		return false
	}
	return true
}

// archiveFileIDParam извлекает {id} из пути.
func archiveFileIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный archive_file_id %q", raw))
		return 0, false
	}
	return id, true
}

// fail пишет ответ для ошибки каталога. Внутренние ошибки логируются.
func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if status, _ := apierrors.Status(err); status >= http.StatusInternalServerError {
		h.logger.Error("Ошибка операции каталога",
			slog.String("op", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	apierrors.FromCatalogue(w, err)
}
