package catalogue

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики каталога.
var (
	writeBatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tc_write_batches_total",
		Help: "Количество пакетов записи по стратегии и результату.",
	}, []string{"strategy", "outcome"})

	writeBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tc_write_batch_duration_seconds",
		Help:    "Длительность транзакции пакета записи.",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})

	tapeFilesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tc_tape_files_written_total",
		Help: "Количество зафиксированных копий файлов на лентах.",
	})

	recycledTapeFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tc_recycled_tape_files_total",
		Help: "Количество копий, перенесённых в журнал выведенных копий.",
	}, []string{"cause"})

	retrieveRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tc_retrieve_requests_total",
		Help: "Количество запросов подготовки восстановления по результату.",
	}, []string{"outcome"})

	mountRuleCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tc_mount_rule_cache_hits_total",
		Help: "Попадания в кэш правил монтирования.",
	})
	mountRuleCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tc_mount_rule_cache_misses_total",
		Help: "Промахи кэша правил монтирования.",
	})
)

// outcome — метка результата операции для метрик.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrDataIntegrity):
		return "integrity"
	case errors.Is(err, ErrConnectivity):
		return "connectivity"
	case errors.Is(err, ErrUser):
		return "user"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
