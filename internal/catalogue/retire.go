package catalogue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// RetireRequest — запрос на вывод копии файла из обращения.
// Копия указывается либо лентой VID, либо идентичностью на диске
// (DiskInstance, DiskFileID) и номером копии CopyNb.
type RetireRequest struct {
	ArchiveFileID uint64
	VID           string
	DiskInstance  string
	DiskFileID    string
	CopyNb        uint32
	Reason        string
}

func (r RetireRequest) validate() error {
	if r.ArchiveFileID == 0 {
		return userErrorf("archive_file_id обязателен")
	}
	if r.Reason == "" {
		return userErrorf("причина вывода копии обязательна")
	}
	if r.VID == "" && (r.DiskInstance == "" || r.DiskFileID == "" || r.CopyNb == 0) {
		return userErrorf("нужно указать vid либо disk_instance, disk_file_id и copy_nb")
	}
	return nil
}

// RetireTapeFileCopy переносит одну живую копию файла в журнал.
// Последнюю живую копию вывести нельзя.
func (c *Catalogue) RetireTapeFileCopy(ctx context.Context, req RetireRequest) (*model.RecycleLogEntry, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var entry model.RecycleLogEntry
	err := c.adapter.WithTx(ctx, func(ctx context.Context, tx TransactionAdapter) error {
		files, err := tx.GetArchiveFiles(ctx, []uint64{req.ArchiveFileID})
		if err != nil {
			return fmt.Errorf("чтение файла: %w", err)
		}
		af, ok := files[req.ArchiveFileID]
		if !ok {
			return userErrorf("файл archive_file_id=%d не найден в каталоге", req.ArchiveFileID)
		}
		if req.DiskInstance != "" && af.DiskInstanceName != req.DiskInstance {
			return userErrorf("файл archive_file_id=%d принадлежит дисковому инстансу %s, а не %s",
				req.ArchiveFileID, af.DiskInstanceName, req.DiskInstance)
		}
		if req.DiskFileID != "" && af.DiskFileID != req.DiskFileID {
			return userErrorf("файл archive_file_id=%d имеет disk_file_id=%s, а не %s",
				req.ArchiveFileID, af.DiskFileID, req.DiskFileID)
		}

		copies, err := tx.ArchiveFileCopies(ctx, req.ArchiveFileID)
		if err != nil {
			return fmt.Errorf("чтение копий: %w", err)
		}

		var target *model.TapeFile
		for i := range copies {
			tf := &copies[i]
			if req.VID != "" && tf.VID != req.VID {
				continue
			}
			if req.CopyNb != 0 && tf.CopyNb != req.CopyNb {
				continue
			}
			target = tf
			break
		}
		if target == nil {
			return userErrorf("у файла archive_file_id=%d нет подходящей живой копии (vid=%q copy_nb=%d)",
				req.ArchiveFileID, req.VID, req.CopyNb)
		}
		if len(copies) == 1 {
			return userErrorf("копия vid=%s fseq=%d — последняя живая копия файла archive_file_id=%d",
				target.VID, target.FSeq, req.ArchiveFileID)
		}

		entry = model.NewRecycleLogEntry(af, *target, req.Reason, c.now())
		return tx.MoveToRecycleLog(ctx, []model.RecycleLogEntry{entry})
	})
	if err != nil {
		c.logger.Warn("Вывод копии отклонён",
			slog.Uint64("archive_file_id", req.ArchiveFileID),
			slog.String("vid", req.VID),
			slog.Uint64("copy_nb", uint64(req.CopyNb)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	recycledTapeFilesTotal.WithLabelValues("retired").Inc()
	c.logger.Info("Копия выведена в журнал",
		slog.Uint64("archive_file_id", entry.ArchiveFileID),
		slog.Uint64("copy_nb", uint64(entry.CopyNb)),
		slog.String("vid", entry.VID),
		slog.Uint64("fseq", entry.FSeq),
		slog.String("reason", entry.ReasonLog),
	)
	return &entry, nil
}
