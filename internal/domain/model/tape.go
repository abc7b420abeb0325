package model

import (
	"fmt"
	"strings"
	"time"
)

// TapeState — состояние ленты.
type TapeState string

const (
	// TapeStateActive — лента доступна для записи и чтения
	TapeStateActive TapeState = "ACTIVE"
	// TapeStateDisabled — лента выведена из обслуживания оператором
	TapeStateDisabled TapeState = "DISABLED"
	// TapeStateRepacking — содержимое ленты переписывается на другие ленты
	TapeStateRepacking TapeState = "REPACKING"
	// TapeStateBroken — лента повреждена
	TapeStateBroken TapeState = "BROKEN"
	// TapeStateExported — лента вывезена из библиотеки
	TapeStateExported TapeState = "EXPORTED"
)

func (s TapeState) String() string {
	return string(s)
}

// ParseTapeState разбирает состояние ленты (регистр не важен).
func ParseTapeState(s string) (TapeState, error) {
	st := TapeState(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case TapeStateActive, TapeStateDisabled, TapeStateRepacking, TapeStateBroken, TapeStateExported:
		return st, nil
	default:
		return "", fmt.Errorf("недопустимое состояние ленты %q, допустимые: ACTIVE, DISABLED, REPACKING, BROKEN, EXPORTED", s)
	}
}

// Tape — физический том.
// Хранится в таблице tape, создаётся при провизионировании.
type Tape struct {
	VID string `json:"vid"`
	// LastFSeq — последняя занятая позиция; не уменьшается и не переиспользуется
	LastFSeq uint64 `json:"last_fseq"`
	// DataInBytes — объём записанных данных
	DataInBytes uint64 `json:"data_in_bytes"`
	// NbFiles — количество записанных файлов
	NbFiles uint64 `json:"nb_files"`
	State   TapeState `json:"state"`
	// StateReason — причина последней смены состояния
	StateReason *string `json:"state_reason,omitempty"`
	// LastWriteDrive — привод последней записи
	LastWriteDrive *string `json:"last_write_drive,omitempty"`
	// LastWriteTime — время последней записи
	LastWriteTime *time.Time `json:"last_write_time,omitempty"`
	CreationTime  time.Time  `json:"creation_time"`
}

// TapeUsage — приращение счётчиков ленты по итогам пакета записи.
type TapeUsage struct {
	VID string
	// PrevLastFSeq — last_fseq, прочитанный в начале транзакции
	PrevLastFSeq uint64
	// LastFSeq — новое значение last_fseq
	LastFSeq uint64
	// Bytes — сколько байт добавлено
	Bytes uint64
	// Files — сколько файлов добавлено
	Files     uint64
	TapeDrive string
	WriteTime time.Time
}
