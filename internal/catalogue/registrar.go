package catalogue

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// registerArchiveFiles регистрирует файлы пакета, которых ещё нет в каталоге.
//
// Вставка идёт по возрастанию archive_file_id, поэтому параллельные пакеты
// берут блокировки индекса в одном порядке. После вставки все строки
// перечитываются: проигравший гонку видит строку победителя, и проверки
// размера и контрольных сумм повторяются против реально сохранённых данных.
// Возвращает сохранённые файлы по id.
func registerArchiveFiles(
	ctx context.Context,
	tx TransactionAdapter,
	files []model.TapeItemWritten,
	now time.Time,
) (map[uint64]*model.ArchiveFile, error) {
	if len(files) == 0 {
		return map[uint64]*model.ArchiveFile{}, nil
	}

	firstByID := make(map[uint64]model.TapeItemWritten, len(files))
	for _, item := range files {
		if _, ok := firstByID[item.File.ArchiveFileID]; !ok {
			firstByID[item.File.ArchiveFileID] = item
		}
	}

	ids := archiveFileIDs(files)
	candidates := make([]*model.ArchiveFile, 0, len(ids))
	for _, id := range ids {
		candidates = append(candidates, firstByID[id].ArchiveFile(now))
	}

	if err := tx.InsertArchiveFilesIfAbsent(ctx, candidates); err != nil {
		return nil, fmt.Errorf("регистрация файлов: %w", err)
	}

	stored, err := tx.GetArchiveFiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("перечитывание файлов: %w", err)
	}
	for _, id := range ids {
		if _, ok := stored[id]; !ok {
			return nil, fmt.Errorf("файл archive_file_id=%d отсутствует после регистрации", id)
		}
	}

	if err := CheckIntegrity(files, stored); err != nil {
		return nil, err
	}
	return stored, nil
}
