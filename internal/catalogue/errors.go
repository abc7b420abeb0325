// errors.go — именованные условия отказа каталога.
//
// Каждое условие — структура с контекстом (vid, archive_file_id, ожидаемое
// и фактическое значение), сопоставимая через errors.Is как с собственным
// sentinel, так и с категорией: ErrValidation, ErrDataIntegrity,
// ErrConnectivity, ErrUser.
package catalogue

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/checksum"
)

// Категории ошибок.
var (
	// ErrValidation — пакет записи нарушает последовательность или форму.
	ErrValidation = errors.New("ошибка валидации")
	// ErrDataIntegrity — данные копии расходятся с зарегистрированным файлом.
	ErrDataIntegrity = errors.New("нарушение целостности данных")
	// ErrConnectivity — связь с хранилищем каталога потеряна; операцию можно повторить.
	ErrConnectivity = errors.New("ошибка связи с хранилищем каталога")
	// ErrUser — запрос нарушает политику каталога.
	ErrUser = errors.New("ошибка пользователя")
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — запись уже существует.
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// Конкретные условия.
var (
	ErrVidMismatch           = errors.New("vid элемента не совпадает с vid пакета")
	ErrFseqMismatch          = errors.New("нарушена последовательность fseq")
	ErrDuplicateCopyNb       = errors.New("дублирующийся номер копии в пакете")
	ErrIncompleteItem        = errors.New("неполный элемент пакета")
	ErrFileSizeMismatch      = errors.New("размер файла не совпадает")
	ErrChecksumTypeMismatch  = checksum.ErrTypeMismatch
	ErrChecksumValueMismatch = checksum.ErrValueMismatch
	ErrLostConnection        = errors.New("соединение с базой данных потеряно")
)

// ErrCommitConflict возвращается адаптером, когда отложенная проверка
// уникальности (vid, fseq) срабатывает при COMMIT. Координатор превращает её
// в FseqMismatchError.
var ErrCommitConflict = errors.New("конфликт уникальности при фиксации транзакции")

// VidMismatchError — элемент пакета относится к другой ленте.
type VidMismatchError struct {
	BatchVID string
	ItemVID  string
	FSeq     uint64
}

func (e *VidMismatchError) Error() string {
	return fmt.Sprintf("%s: пакет vid=%s, элемент fseq=%d vid=%s", ErrVidMismatch, e.BatchVID, e.FSeq, e.ItemVID)
}

func (e *VidMismatchError) Is(target error) bool {
	return target == ErrVidMismatch || target == ErrValidation
}

// FseqMismatchError — fseq элемента не продолжает последовательность ленты.
type FseqMismatchError struct {
	VID      string
	Expected uint64
	Actual   uint64
	// Concurrent — позиция занята параллельным пакетом (проигранный CAS
	// или конфликт при фиксации)
	Concurrent bool
}

func (e *FseqMismatchError) Error() string {
	if e.Concurrent {
		return fmt.Sprintf("%s: vid=%s fseq=%d занят параллельной записью (last_fseq=%d)",
			ErrFseqMismatch, e.VID, e.Actual, e.Expected)
	}
	return fmt.Sprintf("%s: vid=%s ожидался fseq=%d, получен %d", ErrFseqMismatch, e.VID, e.Expected, e.Actual)
}

func (e *FseqMismatchError) Is(target error) bool {
	return target == ErrFseqMismatch || target == ErrValidation
}

// DuplicateCopyNbError — два элемента пакета для одной пары (archive_file_id, copy_nb).
type DuplicateCopyNbError struct {
	ArchiveFileID uint64
	CopyNb        uint32
	FirstFSeq     uint64
	SecondFSeq    uint64
}

func (e *DuplicateCopyNbError) Error() string {
	return fmt.Sprintf("%s: archive_file_id=%d copy_nb=%d в fseq=%d и fseq=%d",
		ErrDuplicateCopyNb, e.ArchiveFileID, e.CopyNb, e.FirstFSeq, e.SecondFSeq)
}

func (e *DuplicateCopyNbError) Is(target error) bool {
	return target == ErrDuplicateCopyNb || target == ErrValidation
}

// IncompleteItemError — в элементе не заполнено обязательное поле.
type IncompleteItemError struct {
	VID   string
	FSeq  uint64
	Field string
}

func (e *IncompleteItemError) Error() string {
	return fmt.Sprintf("%s: vid=%s fseq=%d, не заполнено поле %s", ErrIncompleteItem, e.VID, e.FSeq, e.Field)
}

func (e *IncompleteItemError) Is(target error) bool {
	return target == ErrIncompleteItem || target == ErrValidation
}

// FileSizeMismatchError — размер копии отличается от размера файла в каталоге.
type FileSizeMismatchError struct {
	ArchiveFileID uint64
	VID           string
	FSeq          uint64
	Expected      uint64
	Actual        uint64
}

func (e *FileSizeMismatchError) Error() string {
	return fmt.Sprintf("%s: archive_file_id=%d vid=%s fseq=%d ожидалось=%d получено=%d",
		ErrFileSizeMismatch, e.ArchiveFileID, e.VID, e.FSeq, e.Expected, e.Actual)
}

func (e *FileSizeMismatchError) Is(target error) bool {
	return target == ErrFileSizeMismatch || target == ErrDataIntegrity
}

// ChecksumMismatchError — контрольные суммы копии расходятся с каталогом.
// Unwrap отдаёт *checksum.MismatchError, поэтому errors.Is находит
// ErrChecksumTypeMismatch или ErrChecksumValueMismatch.
type ChecksumMismatchError struct {
	ArchiveFileID uint64
	VID           string
	FSeq          uint64
	Err           error
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("archive_file_id=%d vid=%s fseq=%d: %v", e.ArchiveFileID, e.VID, e.FSeq, e.Err)
}

func (e *ChecksumMismatchError) Is(target error) bool {
	return target == ErrDataIntegrity
}

func (e *ChecksumMismatchError) Unwrap() error {
	return e.Err
}

// LostConnectionError — обрыв связи с хранилищем посреди операции.
type LostConnectionError struct {
	Op  string
	Err error
}

func (e *LostConnectionError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrLostConnection, e.Op, e.Err)
}

func (e *LostConnectionError) Is(target error) bool {
	return target == ErrLostConnection || target == ErrConnectivity
}

func (e *LostConnectionError) Unwrap() error {
	return e.Err
}

// UserError — нарушение политики каталога в запросе пользователя.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUser, e.Msg)
}

func (e *UserError) Is(target error) bool {
	return target == ErrUser
}

func userErrorf(format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}
