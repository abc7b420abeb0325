package catalogue

import (
	"errors"
	"slices"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/checksum"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// Batch — проверенный пакет записи одной ленты.
type Batch struct {
	VID string
	// Items — все элементы пакета, включая placeholder
	Items []model.TapeItemWritten
	// Files — только полные элементы
	Files []model.TapeItemWritten
	// LastFSeq — наибольший fseq пакета
	LastFSeq uint64
	// Bytes — суммарный размер полных элементов
	Bytes uint64
	// TapeDrive — привод последнего элемента
	TapeDrive string
}

// Validate проверяет пакет против last_fseq ленты и уже зарегистрированных файлов.
//
// Элементы должны принадлежать одной ленте и идти строго подряд начиная
// с lastFSeq+1. Для полных элементов проверяются обязательные поля,
// уникальность (archive_file_id, copy_nb) в пределах пакета, размер и
// контрольные суммы относительно registered. Пустой пакет допустим.
// Функция не обращается к хранилищу.
func Validate(items []model.TapeItemWritten, lastFSeq uint64, registered map[uint64]*model.ArchiveFile) (*Batch, error) {
	if len(items) == 0 {
		return &Batch{LastFSeq: lastFSeq}, nil
	}

	b := &Batch{
		VID:   items[0].VID,
		Items: items,
	}

	expected := lastFSeq + 1
	for _, item := range items {
		if item.VID != b.VID {
			return nil, &VidMismatchError{BatchVID: b.VID, ItemVID: item.VID, FSeq: item.FSeq}
		}
		if item.FSeq != expected {
			return nil, &FseqMismatchError{VID: b.VID, Expected: expected, Actual: item.FSeq}
		}
		expected++
	}
	b.LastFSeq = expected - 1
	b.TapeDrive = items[len(items)-1].TapeDrive

	seen := make(map[model.CopyKey]uint64)
	for _, item := range items {
		if item.IsPlaceholder() {
			continue
		}
		if err := checkShape(item); err != nil {
			return nil, err
		}
		key := model.CopyKey{ArchiveFileID: item.File.ArchiveFileID, CopyNb: item.File.CopyNb}
		if first, ok := seen[key]; ok {
			return nil, &DuplicateCopyNbError{
				ArchiveFileID: key.ArchiveFileID,
				CopyNb:        key.CopyNb,
				FirstFSeq:     first,
				SecondFSeq:    item.FSeq,
			}
		}
		seen[key] = item.FSeq
		b.Files = append(b.Files, item)
		b.Bytes += item.File.Size
	}

	if err := CheckIntegrity(b.Files, registered); err != nil {
		return nil, err
	}
	return b, nil
}

// CheckIntegrity сверяет размер и контрольные суммы полных элементов
// с зарегистрированными файлами. Элементы без записи в registered пропускаются.
func CheckIntegrity(files []model.TapeItemWritten, registered map[uint64]*model.ArchiveFile) error {
	for _, item := range files {
		af, ok := registered[item.File.ArchiveFileID]
		if !ok {
			continue
		}
		if af.SizeInBytes != item.File.Size {
			return &FileSizeMismatchError{
				ArchiveFileID: af.ArchiveFileID,
				VID:           item.VID,
				FSeq:          item.FSeq,
				Expected:      af.SizeInBytes,
				Actual:        item.File.Size,
			}
		}
		if err := checksum.Reconcile(af.Checksum, item.File.Checksum); err != nil {
			var mismatch *checksum.MismatchError
			if !errors.As(err, &mismatch) {
				return err
			}
			return &ChecksumMismatchError{
				ArchiveFileID: af.ArchiveFileID,
				VID:           item.VID,
				FSeq:          item.FSeq,
				Err:           mismatch,
			}
		}
	}
	return nil
}

func checkShape(item model.TapeItemWritten) error {
	f := item.File
	field := ""
	switch {
	case f.ArchiveFileID == 0:
		field = "archive_file_id"
	case f.DiskInstance == "":
		field = "disk_instance"
	case f.DiskFileID == "":
		field = "disk_file_id"
	case f.CopyNb == 0:
		field = "copy_nb"
	case f.Checksum.IsEmpty():
		field = "checksum"
	default:
		return nil
	}
	return &IncompleteItemError{VID: item.VID, FSeq: item.FSeq, Field: field}
}

// archiveFileIDs возвращает id полных элементов пакета без повторов, по возрастанию.
func archiveFileIDs(files []model.TapeItemWritten) []uint64 {
	seen := make(map[uint64]bool, len(files))
	ids := make([]uint64, 0, len(files))
	for _, item := range files {
		id := item.File.ArchiveFileID
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
