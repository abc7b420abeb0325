package catalogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// stepTimings — длительность шагов транзакции записи.
type stepTimings struct {
	lock, validate, register, retire, insert, account, commit time.Duration
}

func (t *stepTimings) attrs() []any {
	return []any{
		slog.Duration("lock_time", t.lock),
		slog.Duration("validate_time", t.validate),
		slog.Duration("register_time", t.register),
		slog.Duration("retire_time", t.retire),
		slog.Duration("insert_time", t.insert),
		slog.Duration("account_time", t.account),
		slog.Duration("commit_time", t.commit),
	}
}

// RecordTapeWriteBatch фиксирует пакет событий записи на одну ленту
// как одну атомарную операцию.
//
// Порядок шагов: захват ленты, валидация, регистрация файлов, вывод
// заменяемых копий в журнал, вставка новых копий, учёт ленты, фиксация.
// Любая ошибка откатывает транзакцию целиком. Возвращает записи журнала
// для копий, выведенных этим пакетом.
func (c *Catalogue) RecordTapeWriteBatch(ctx context.Context, items []model.TapeItemWritten) ([]model.RecycleLogEntry, error) {
	if len(items) == 0 {
		return nil, nil
	}

	vid := items[0].VID
	strategy := c.adapter.Strategy()
	start := time.Now()

	var (
		timings  stepTimings
		retired  []model.RecycleLogEntry
		batch    *Batch
		fnFinish time.Time
	)

	err := c.adapter.WithTx(ctx, func(ctx context.Context, tx TransactionAdapter) error {
		retired = nil
		step := time.Now()
		mark := func(d *time.Duration) {
			now := time.Now()
			*d = now.Sub(step)
			step = now
		}

		tape, err := tx.LockTape(ctx, vid)
		if err != nil {
			return fmt.Errorf("захват ленты vid=%s: %w", vid, err)
		}
		mark(&timings.lock)

		registered, err := tx.GetArchiveFiles(ctx, fullItemIDs(items))
		if err != nil {
			return fmt.Errorf("чтение зарегистрированных файлов: %w", err)
		}
		batch, err = Validate(items, tape.LastFSeq, registered)
		if err != nil {
			return err
		}
		mark(&timings.validate)

		now := c.now()
		stored, err := registerArchiveFiles(ctx, tx, batch.Files, now)
		if err != nil {
			return err
		}
		mark(&timings.register)

		retired, err = retireSuperseded(ctx, tx, batch.Files, stored, now)
		if err != nil {
			return err
		}
		mark(&timings.retire)

		tapeFiles := make([]model.TapeFile, 0, len(batch.Files))
		for _, item := range batch.Files {
			tapeFiles = append(tapeFiles, item.TapeFile(now))
		}
		if len(tapeFiles) > 0 {
			if err := tx.InsertTapeFiles(ctx, tapeFiles); err != nil {
				return fmt.Errorf("вставка копий: %w", err)
			}
		}
		mark(&timings.insert)

		if err := accountTapeUsage(ctx, tx, tapeUsage(batch, tape.LastFSeq, now)); err != nil {
			return err
		}
		mark(&timings.account)

		fnFinish = time.Now()
		return nil
	})
	if !fnFinish.IsZero() {
		timings.commit = time.Since(fnFinish)
	}

	if errors.Is(err, ErrCommitConflict) {
		err = c.commitConflict(ctx, vid, items[0].FSeq, err)
	}

	writeBatchDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	writeBatchesTotal.WithLabelValues(strategy, outcome(err)).Inc()

	if err != nil {
		c.logger.Warn("Пакет записи отклонён",
			slog.String("vid", vid),
			slog.Int("items", len(items)),
			slog.String("strategy", strategy),
			slog.String("outcome", outcome(err)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	tapeFilesWrittenTotal.Add(float64(len(batch.Files)))
	recycledTapeFilesTotal.WithLabelValues("superseded").Add(float64(len(retired)))

	for _, e := range retired {
		c.logger.Info("Копия выведена в журнал",
			slog.Uint64("archive_file_id", e.ArchiveFileID),
			slog.Uint64("copy_nb", uint64(e.CopyNb)),
			slog.String("vid", e.VID),
			slog.Uint64("fseq", e.FSeq),
			slog.String("reason", e.ReasonLog),
		)
	}

	attrs := []any{
		slog.String("vid", vid),
		slog.String("strategy", strategy),
		slog.Int("items", len(items)),
		slog.Int("files", len(batch.Files)),
		slog.Uint64("bytes", batch.Bytes),
		slog.Uint64("last_fseq", batch.LastFSeq),
		slog.Int("retired", len(retired)),
	}
	c.logger.Info("Пакет записи зафиксирован", append(attrs, timings.attrs()...)...)

	return retired, nil
}

// commitConflict превращает отложенный конфликт уникальности (vid, fseq)
// в FseqMismatchError: позицию занял параллельный пакет.
func (c *Catalogue) commitConflict(ctx context.Context, vid string, firstFSeq uint64, cause error) error {
	mismatch := &FseqMismatchError{VID: vid, Actual: firstFSeq, Concurrent: true}
	tape, err := c.adapter.GetTape(ctx, vid)
	if err != nil {
		c.logger.Warn("Не удалось перечитать ленту после конфликта",
			slog.String("vid", vid),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
		return mismatch
	}
	mismatch.Expected = tape.LastFSeq + 1
	return mismatch
}

// fullItemIDs — archive_file_id полных элементов без повторов.
func fullItemIDs(items []model.TapeItemWritten) []uint64 {
	files := make([]model.TapeItemWritten, 0, len(items))
	for _, item := range items {
		if !item.IsPlaceholder() {
			files = append(files, item)
		}
	}
	return archiveFileIDs(files)
}
