package catalogue

import (
	"context"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// Стратегии записи пакетов.
const (
	// StrategyRowLock — PostgreSQL, SELECT ... FOR UPDATE на строке ленты.
	StrategyRowLock = "rowlock"
	// StrategyStaging — PostgreSQL, временные таблицы ON COMMIT DROP и
	// отложенная проверка уникальности (vid, fseq).
	StrategyStaging = "staging"
	// StrategyMutex — SQLite, общий мьютекс процесса и BEGIN IMMEDIATE.
	StrategyMutex = "mutex"
)

// TransactionAdapter — операции хранилища внутри одной транзакции записи.
// Реализуется каждым бэкендом; логика валидации, регистрации, вывода копий
// и учёта ленты общая и живёт в этом пакете.
type TransactionAdapter interface {
	// LockTape читает ленту, захватывая её на время транзакции
	// (для стратегии staging без блокировки). ErrNotFound, если ленты нет.
	LockTape(ctx context.Context, vid string) (*model.Tape, error)
	// GetArchiveFiles возвращает зарегистрированные файлы по списку id.
	GetArchiveFiles(ctx context.Context, ids []uint64) (map[uint64]*model.ArchiveFile, error)
	// InsertArchiveFilesIfAbsent вставляет файлы, которых ещё нет.
	// Существующие id пропускаются без ошибки. files упорядочены по id.
	InsertArchiveFilesIfAbsent(ctx context.Context, files []*model.ArchiveFile) error
	// LiveCopies возвращает живые копии по ключам (archive_file_id, copy_nb).
	LiveCopies(ctx context.Context, keys []model.CopyKey) ([]model.TapeFile, error)
	// ArchiveFileCopies возвращает все живые копии файла, блокируя их.
	ArchiveFileCopies(ctx context.Context, archiveFileID uint64) ([]model.TapeFile, error)
	// MoveToRecycleLog записывает снимки в журнал и удаляет соответствующие копии.
	MoveToRecycleLog(ctx context.Context, entries []model.RecycleLogEntry) error
	// InsertTapeFiles вставляет новые копии.
	InsertTapeFiles(ctx context.Context, files []model.TapeFile) error
	// UpdateTapeUsage применяет приращение к ленте, только если last_fseq
	// всё ещё равен usage.PrevLastFSeq. false — значение уже изменено.
	UpdateTapeUsage(ctx context.Context, usage model.TapeUsage) (bool, error)
}

// Adapter — бэкенд каталога.
type Adapter interface {
	// Strategy — имя стратегии записи (для метрик и логов).
	Strategy() string
	// WithTx выполняет fn в одной транзакции. Ошибка fn откатывает всё.
	// Отложенный конфликт уникальности при фиксации — ErrCommitConflict.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TransactionAdapter) error) error

	// GetArchiveFile возвращает файл с живыми копиями.
	GetArchiveFile(ctx context.Context, archiveFileID uint64) (*model.ArchiveFile, error)
	// GetTapeFileCopies возвращает файл и его живые копии с состоянием лент.
	GetTapeFileCopies(ctx context.Context, archiveFileID uint64) (*model.ArchiveFile, []model.TapeFileCopy, error)
	// GetMountRules возвращает правила дискового инстанса, относящиеся
	// к запрашивающему или его группе, вместе с политиками.
	GetMountRules(ctx context.Context, diskInstance, requester, group string) ([]model.MountRuleMatch, error)
	GetTape(ctx context.Context, vid string) (*model.Tape, error)
	ListRecycleLog(ctx context.Context, vid string) ([]model.RecycleLogEntry, error)

	CreateTape(ctx context.Context, tape *model.Tape) error
	SetTapeState(ctx context.Context, vid string, state model.TapeState, reason *string) error
	CreateMountPolicy(ctx context.Context, policy *model.MountPolicy) error
	CreateMountRule(ctx context.Context, rule *model.MountRule) error

	// Ping проверяет доступность хранилища.
	Ping(ctx context.Context) error
}
