package catalogue

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// supersededReason — причина вывода копии, заменённой новой записью.
const supersededReason = "Копия заменена новой записью vid=%s fseq=%d"

// retireSuperseded переносит в журнал живые копии, которые заменяются
// элементами пакета: та же пара (archive_file_id, copy_nb), другая позиция
// (vid, fseq). Вызывается до вставки новых копий, поэтому уникальность
// живых (archive_file_id, copy_nb) внутри транзакции не нарушается.
func retireSuperseded(
	ctx context.Context,
	tx TransactionAdapter,
	files []model.TapeItemWritten,
	registered map[uint64]*model.ArchiveFile,
	now time.Time,
) ([]model.RecycleLogEntry, error) {
	if len(files) == 0 {
		return nil, nil
	}

	incoming := make(map[model.CopyKey]model.TapeItemWritten, len(files))
	keys := make([]model.CopyKey, 0, len(files))
	for _, item := range files {
		key := model.CopyKey{ArchiveFileID: item.File.ArchiveFileID, CopyNb: item.File.CopyNb}
		incoming[key] = item
		keys = append(keys, key)
	}

	live, err := tx.LiveCopies(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("поиск заменяемых копий: %w", err)
	}

	var entries []model.RecycleLogEntry
	for _, tf := range live {
		item, ok := incoming[tf.Key()]
		if !ok || (tf.VID == item.VID && tf.FSeq == item.FSeq) {
			continue
		}
		af, ok := registered[tf.ArchiveFileID]
		if !ok {
			return nil, fmt.Errorf("файл archive_file_id=%d не найден для копии vid=%s fseq=%d",
				tf.ArchiveFileID, tf.VID, tf.FSeq)
		}
		reason := fmt.Sprintf(supersededReason, item.VID, item.FSeq)
		entries = append(entries, model.NewRecycleLogEntry(af, tf, reason, now))
	}

	if len(entries) == 0 {
		return nil, nil
	}
	if err := tx.MoveToRecycleLog(ctx, entries); err != nil {
		return nil, fmt.Errorf("перенос копий в журнал: %w", err)
	}
	return entries, nil
}
