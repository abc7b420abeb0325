// dto.go — тела запросов и ответов API каталога.
package handlers

import (
	"fmt"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/checksum"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// writeBatchRequest — POST /api/v1/write-batches.
type writeBatchRequest struct {
	Items []writeBatchItem `json:"items"`
}

// writeBatchItem — позиция на ленте. Без file — placeholder.
type writeBatchItem struct {
	VID       string          `json:"vid"`
	FSeq      uint64          `json:"fseq"`
	TapeDrive string          `json:"tape_drive"`
	File      *writtenFileDTO `json:"file,omitempty"`
}

type writtenFileDTO struct {
	ArchiveFileID    uint64            `json:"archive_file_id"`
	DiskInstance     string            `json:"disk_instance"`
	DiskFileID       string            `json:"disk_file_id"`
	DiskFileOwnerUID uint32            `json:"disk_file_uid"`
	DiskFileGID      uint32            `json:"disk_file_gid"`
	Size             uint64            `json:"size"`
	Checksum         map[string]string `json:"checksum"`
	StorageClassID   uint64            `json:"storage_class_id"`
	BlockID          uint64            `json:"block_id"`
	CopyNb           uint32            `json:"copy_nb"`
}

// toModel конвертирует пакет в события записи.
func (req writeBatchRequest) toModel() ([]model.TapeItemWritten, error) {
	items := make([]model.TapeItemWritten, 0, len(req.Items))
	for i, it := range req.Items {
		item := model.TapeItemWritten{VID: it.VID, FSeq: it.FSeq, TapeDrive: it.TapeDrive}
		if f := it.File; f != nil {
			sum, err := checksum.FromMap(f.Checksum)
			if err != nil {
				return nil, fmt.Errorf("items[%d]: %w", i, err)
			}
			item.File = &model.TapeFileWritten{
				ArchiveFileID:    f.ArchiveFileID,
				DiskInstance:     f.DiskInstance,
				DiskFileID:       f.DiskFileID,
				DiskFileOwnerUID: f.DiskFileOwnerUID,
				DiskFileGID:      f.DiskFileGID,
				Size:             f.Size,
				Checksum:         sum,
				StorageClassID:   f.StorageClassID,
				BlockID:          f.BlockID,
				CopyNb:           f.CopyNb,
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// writeBatchResponse — итог зафиксированного пакета.
type writeBatchResponse struct {
	Items    int                     `json:"items"`
	Recycled []model.RecycleLogEntry `json:"recycled"`
}

// retireRequest — POST /api/v1/archive-files/{id}/retire.
type retireRequest struct {
	VID          string `json:"vid,omitempty"`
	DiskInstance string `json:"disk_instance,omitempty"`
	DiskFileID   string `json:"disk_file_id,omitempty"`
	CopyNb       uint32 `json:"copy_nb,omitempty"`
	Reason       string `json:"reason"`
}

// retrieveRequest — POST /api/v1/archive-files/{id}/retrieve.
type retrieveRequest struct {
	DiskInstance string                  `json:"disk_instance"`
	Requester    model.RequesterIdentity `json:"requester"`
	Activity     string                  `json:"activity,omitempty"`
}

// createTapeRequest — PUT /api/v1/tapes/{vid}.
type createTapeRequest struct {
	State string `json:"state,omitempty"`
}

// setTapeStateRequest — PATCH /api/v1/tapes/{vid}/state.
type setTapeStateRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// mountRuleRequest — POST /api/v1/mount-rules/{kind}.
type mountRuleRequest struct {
	DiskInstance  string `json:"disk_instance"`
	Name          string `json:"name"`
	ActivityRegex string `json:"activity_regex,omitempty"`
	MountPolicy   string `json:"mount_policy"`
	Comment       string `json:"comment,omitempty"`
}

// recycleLogResponse — журнал ленты.
type recycleLogResponse struct {
	VID     string                  `json:"vid"`
	Entries []model.RecycleLogEntry `json:"entries"`
}
