package model

import (
	"time"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/checksum"
)

// TapeItemWritten — событие «позиция на ленте записана».
// Либо placeholder (только vid/fseq/привод, File == nil), либо полная
// запись файла с данными ArchiveFile и TapeFile.
type TapeItemWritten struct {
	VID       string
	FSeq      uint64
	TapeDrive string
	File      *TapeFileWritten
}

// TapeFileWritten — данные записанного на ленту файла.
type TapeFileWritten struct {
	ArchiveFileID    uint64
	DiskInstance     string
	DiskFileID       string
	DiskFileOwnerUID uint32
	DiskFileGID      uint32
	Size             uint64
	Checksum         checksum.Blob
	StorageClassID   uint64
	BlockID          uint64
	CopyNb           uint32
}

// IsPlaceholder — событие только резервирует позицию.
func (i TapeItemWritten) IsPlaceholder() bool {
	return i.File == nil
}

// ArchiveFile строит запись archive_file, создаваемую первой копией.
func (i TapeItemWritten) ArchiveFile(now time.Time) *ArchiveFile {
	f := i.File
	return &ArchiveFile{
		ArchiveFileID:      f.ArchiveFileID,
		DiskInstanceName:   f.DiskInstance,
		DiskFileID:         f.DiskFileID,
		DiskFileOwnerUID:   f.DiskFileOwnerUID,
		DiskFileGID:        f.DiskFileGID,
		SizeInBytes:        f.Size,
		Checksum:           f.Checksum,
		StorageClassID:     f.StorageClassID,
		CreationTime:       now,
		ReconciliationTime: now,
	}
}

// TapeFile строит запись tape_file.
func (i TapeItemWritten) TapeFile(now time.Time) TapeFile {
	f := i.File
	return TapeFile{
		VID:                i.VID,
		FSeq:               i.FSeq,
		BlockID:            f.BlockID,
		LogicalSizeInBytes: f.Size,
		CopyNb:             f.CopyNb,
		CreationTime:       now,
		ArchiveFileID:      f.ArchiveFileID,
	}
}
