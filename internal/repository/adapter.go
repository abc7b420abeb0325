package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/catalogue"
	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// Adapter — catalogue.Adapter поверх пула PostgreSQL.
type Adapter struct {
	pool     *pgxpool.Pool
	tx       *TxRunner
	strategy string
}

// NewRowLockAdapter создаёт адаптер со стратегией rowlock.
func NewRowLockAdapter(pool *pgxpool.Pool) *Adapter {
	return &Adapter{pool: pool, tx: NewTxRunner(pool), strategy: catalogue.StrategyRowLock}
}

// NewStagingAdapter создаёт адаптер со стратегией staging.
func NewStagingAdapter(pool *pgxpool.Pool) *Adapter {
	return &Adapter{pool: pool, tx: NewTxRunner(pool), strategy: catalogue.StrategyStaging}
}

// NewAdapter создаёт адаптер по имени стратегии (rowlock, staging).
func NewAdapter(pool *pgxpool.Pool, strategy string) (*Adapter, error) {
	switch strategy {
	case catalogue.StrategyRowLock:
		return NewRowLockAdapter(pool), nil
	case catalogue.StrategyStaging:
		return NewStagingAdapter(pool), nil
	default:
		return nil, fmt.Errorf("неизвестная стратегия записи %q", strategy)
	}
}

// Strategy возвращает имя стратегии записи.
func (a *Adapter) Strategy() string {
	return a.strategy
}

// WithTx выполняет fn в транзакции PostgreSQL.
func (a *Adapter) WithTx(ctx context.Context, fn func(ctx context.Context, tx catalogue.TransactionAdapter) error) error {
	return a.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if a.strategy == catalogue.StrategyStaging {
			return fn(ctx, newStagingTx(tx))
		}
		return fn(ctx, &rowLockTx{db: tx})
	})
}

// Ping проверяет подключение к PostgreSQL.
func (a *Adapter) Ping(ctx context.Context) error {
	return wrapErr("ping", a.pool.Ping(ctx))
}

// --- Чтение ---

func (a *Adapter) getArchiveFile(ctx context.Context, archiveFileID uint64) (*model.ArchiveFile, error) {
	af, err := scanArchiveFile(a.pool.QueryRow(ctx,
		`SELECT `+archiveFileColumns+` FROM archive_file WHERE archive_file_id = $1`,
		int64(archiveFileID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: archive_file_id=%d", ErrNotFound, archiveFileID)
		}
		return nil, wrapErr("чтение archive_file", err)
	}
	return af, nil
}

// GetArchiveFile возвращает файл с живыми копиями.
func (a *Adapter) GetArchiveFile(ctx context.Context, archiveFileID uint64) (*model.ArchiveFile, error) {
	af, err := a.getArchiveFile(ctx, archiveFileID)
	if err != nil {
		return nil, err
	}
	rows, err := a.pool.Query(ctx, `
		SELECT `+tapeFileColumns+`
		FROM tape_file
		WHERE archive_file_id = $1
		ORDER BY copy_nb`, int64(archiveFileID))
	if err != nil {
		return nil, wrapErr("чтение копий файла", err)
	}
	af.TapeFiles, err = collectTapeFiles(rows)
	if err != nil {
		return nil, err
	}
	return af, nil
}

// GetTapeFileCopies возвращает файл и его копии с состоянием лент.
func (a *Adapter) GetTapeFileCopies(ctx context.Context, archiveFileID uint64) (*model.ArchiveFile, []model.TapeFileCopy, error) {
	af, err := a.getArchiveFile(ctx, archiveFileID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := a.pool.Query(ctx, `
		SELECT tf.vid, tf.fseq, tf.block_id, tf.logical_size_in_bytes, tf.copy_nb,
			tf.creation_time, tf.archive_file_id, t.state
		FROM tape_file tf
		JOIN tape t ON t.vid = tf.vid
		WHERE tf.archive_file_id = $1
		ORDER BY tf.copy_nb`, int64(archiveFileID))
	if err != nil {
		return nil, nil, wrapErr("чтение копий файла", err)
	}
	defer rows.Close()

	var copies []model.TapeFileCopy
	for rows.Next() {
		var state string
		tf, err := scanTapeFile(rows, &state)
		if err != nil {
			return nil, nil, fmt.Errorf("ошибка сканирования копии: %w", err)
		}
		copies = append(copies, model.TapeFileCopy{TapeFile: tf, TapeState: model.TapeState(state)})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, wrapErr("чтение копий файла", err)
	}
	return af, copies, nil
}

// GetMountRules возвращает правила инстанса для запрашивающего и его группы.
func (a *Adapter) GetMountRules(ctx context.Context, diskInstance, requester, group string) ([]model.MountRuleMatch, error) {
	rows, err := a.pool.Query(ctx, mountRulesQuery("$1", "$2", "$3"), diskInstance, requester, group)
	if err != nil {
		return nil, wrapErr("чтение правил монтирования", err)
	}
	defer rows.Close()

	var result []model.MountRuleMatch
	for rows.Next() {
		m, err := scanMountRuleMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования правила: %w", err)
		}
		result = append(result, m)
	}
	return result, wrapErr("чтение правил монтирования", rows.Err())
}

// GetTape возвращает ленту.
func (a *Adapter) GetTape(ctx context.Context, vid string) (*model.Tape, error) {
	return selectTape(ctx, a.pool, vid, "")
}

// ListRecycleLog возвращает журнал выведенных копий ленты по fseq.
func (a *Adapter) ListRecycleLog(ctx context.Context, vid string) ([]model.RecycleLogEntry, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT `+recycleLogColumns+`
		FROM file_recycle_log
		WHERE vid = $1
		ORDER BY fseq, id`, vid)
	if err != nil {
		return nil, wrapErr("чтение журнала", err)
	}
	defer rows.Close()

	var result []model.RecycleLogEntry
	for rows.Next() {
		e, err := scanRecycleLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования журнала: %w", err)
		}
		result = append(result, e)
	}
	return result, wrapErr("чтение журнала", rows.Err())
}

// --- Провизионирование ---

// CreateTape регистрирует ленту.
func (a *Adapter) CreateTape(ctx context.Context, tape *model.Tape) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO tape (vid, state, state_reason, creation_time)
		VALUES ($1, $2, $3, $4)`,
		tape.VID, string(tape.State), tape.StateReason, utc(tape.CreationTime))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: лента %s уже зарегистрирована", ErrConflict, tape.VID)
		}
		return wrapErr("создание ленты", err)
	}
	return nil
}

// SetTapeState меняет состояние ленты.
func (a *Adapter) SetTapeState(ctx context.Context, vid string, state model.TapeState, reason *string) error {
	tag, err := a.pool.Exec(ctx,
		`UPDATE tape SET state = $2, state_reason = $3 WHERE vid = $1`,
		vid, string(state), reason)
	if err != nil {
		return wrapErr("смена состояния ленты", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: лента vid=%s", ErrNotFound, vid)
	}
	return nil
}

// CreateMountPolicy создаёт политику монтирования.
func (a *Adapter) CreateMountPolicy(ctx context.Context, p *model.MountPolicy) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO mount_policy (name, archive_priority, archive_min_request_age,
			retrieve_priority, retrieve_min_request_age, comment, creation_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.Name, int64(p.ArchivePriority), int64(p.ArchiveMinRequestAge),
		int64(p.RetrievePriority), int64(p.RetrieveMinRequestAge), p.Comment, utc(p.CreationTime))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: политика %s", ErrConflict, p.Name)
		}
		return wrapErr("создание политики", err)
	}
	return nil
}

// CreateMountRule создаёт правило в таблице своего вида.
func (a *Adapter) CreateMountRule(ctx context.Context, r *model.MountRule) error {
	query, args, err := insertMountRuleQuery(r, "$")
	if err != nil {
		return err
	}
	if _, err := a.pool.Exec(ctx, query, args...); err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("%w: правило %s/%s", ErrConflict, r.Kind, r.Name)
		case isForeignKeyViolation(err):
			return fmt.Errorf("%w: политика %s", ErrNotFound, r.MountPolicyName)
		}
		return wrapErr("создание правила", err)
	}
	return nil
}
