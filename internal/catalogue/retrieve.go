package catalogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// PrepareRetrieve подготавливает восстановление файла на диск.
//
// Пригодны только копии на лентах ACTIVE. Копии на DISABLED, BROKEN и
// EXPORTED отбрасываются; копии на REPACKING тоже, и если остались только
// они, запрос отклоняется. Политика монтирования выбирается по правилам
// дискового инстанса.
func (c *Catalogue) PrepareRetrieve(
	ctx context.Context,
	diskInstance string,
	archiveFileID uint64,
	requester model.RequesterIdentity,
	activity string,
) (*model.RetrieveQueueCriteria, error) {
	criteria, err := c.prepareRetrieve(ctx, diskInstance, archiveFileID, requester, activity)
	retrieveRequestsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		c.logger.Warn("Запрос восстановления отклонён",
			slog.Uint64("archive_file_id", archiveFileID),
			slog.String("disk_instance", diskInstance),
			slog.String("requester", requester.Name),
			slog.String("group", requester.Group),
			slog.String("activity", activity),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	c.logger.Debug("Восстановление подготовлено",
		slog.Uint64("archive_file_id", archiveFileID),
		slog.Int("copies", len(criteria.ArchiveFile.TapeFiles)),
		slog.String("mount_policy", criteria.MountPolicy.Name),
	)
	return criteria, nil
}

func (c *Catalogue) prepareRetrieve(
	ctx context.Context,
	diskInstance string,
	archiveFileID uint64,
	requester model.RequesterIdentity,
	activity string,
) (*model.RetrieveQueueCriteria, error) {
	af, copies, err := c.adapter.GetTapeFileCopies(ctx, archiveFileID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, userErrorf("файл archive_file_id=%d не найден в каталоге", archiveFileID)
		}
		return nil, fmt.Errorf("чтение копий archive_file_id=%d: %w", archiveFileID, err)
	}
	if af.DiskInstanceName != diskInstance {
		return nil, userErrorf("файл archive_file_id=%d принадлежит дисковому инстансу %s, запрошен из %s",
			archiveFileID, af.DiskInstanceName, diskInstance)
	}

	serviceable, repacking := filterServiceable(copies)
	if len(serviceable) == 0 {
		if repacking > 0 {
			return nil, userErrorf("файл archive_file_id=%d: все оставшиеся копии (%d) на лентах в состоянии REPACKING",
				archiveFileID, repacking)
		}
		return nil, userErrorf("файл archive_file_id=%d: нет копий на доступных лентах", archiveFileID)
	}

	rules, err := c.mountRules(ctx, diskInstance, requester)
	if err != nil {
		return nil, fmt.Errorf("чтение правил монтирования: %w", err)
	}
	policy, ok := selectMountPolicy(rules, requester, activity, c.logger)
	if !ok {
		return nil, userErrorf("нет правила монтирования для запрашивающего %s (группа %s) в инстансе %s",
			requester.Name, requester.Group, diskInstance)
	}

	result := *af
	result.TapeFiles = serviceable
	return &model.RetrieveQueueCriteria{ArchiveFile: result, MountPolicy: *policy}, nil
}

// filterServiceable оставляет копии на лентах ACTIVE и считает копии на REPACKING.
func filterServiceable(copies []model.TapeFileCopy) (serviceable []model.TapeFile, repacking int) {
	for _, cp := range copies {
		switch cp.TapeState {
		case model.TapeStateActive:
			serviceable = append(serviceable, cp.TapeFile)
		case model.TapeStateRepacking:
			repacking++
		}
	}
	return serviceable, repacking
}
