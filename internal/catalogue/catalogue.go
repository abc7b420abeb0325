// Пакет catalogue — протокол согласованности каталога ленточного архива:
// запись пакетов «файл записан на ленту», вывод заменённых копий в журнал
// и выбор копии для восстановления.
//
// Логика не зависит от хранилища: бэкенд подключается через Adapter.
package catalogue

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// Catalogue — точка входа в каталог.
type Catalogue struct {
	adapter Adapter
	rules   *MountRuleCache
	logger  *slog.Logger
	now     func() time.Time
}

// New создаёт каталог поверх адаптера бэкенда.
// rules — кэш правил монтирования; nil — без кэширования.
func New(adapter Adapter, rules *MountRuleCache, logger *slog.Logger) *Catalogue {
	return &Catalogue{
		adapter: adapter,
		rules:   rules,
		logger:  logger.With(slog.String("component", "catalogue")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Strategy — стратегия записи активного бэкенда.
func (c *Catalogue) Strategy() string {
	return c.adapter.Strategy()
}

// --- Чтение ---

// GetArchiveFile возвращает файл с живыми копиями.
func (c *Catalogue) GetArchiveFile(ctx context.Context, archiveFileID uint64) (*model.ArchiveFile, error) {
	af, err := c.adapter.GetArchiveFile(ctx, archiveFileID)
	if err != nil {
		return nil, fmt.Errorf("получение файла archive_file_id=%d: %w", archiveFileID, err)
	}
	return af, nil
}

// GetTape возвращает ленту.
func (c *Catalogue) GetTape(ctx context.Context, vid string) (*model.Tape, error) {
	tape, err := c.adapter.GetTape(ctx, vid)
	if err != nil {
		return nil, fmt.Errorf("получение ленты vid=%s: %w", vid, err)
	}
	return tape, nil
}

// ListRecycleLog возвращает журнал выведенных копий ленты.
func (c *Catalogue) ListRecycleLog(ctx context.Context, vid string) ([]model.RecycleLogEntry, error) {
	entries, err := c.adapter.ListRecycleLog(ctx, vid)
	if err != nil {
		return nil, fmt.Errorf("получение журнала ленты vid=%s: %w", vid, err)
	}
	return entries, nil
}

// Ping проверяет доступность хранилища.
func (c *Catalogue) Ping(ctx context.Context) error {
	return c.adapter.Ping(ctx)
}

// --- Провизионирование ---

// CreateTape регистрирует новую пустую ленту.
func (c *Catalogue) CreateTape(ctx context.Context, vid string, state model.TapeState) (*model.Tape, error) {
	if vid == "" {
		return nil, fmt.Errorf("%w: vid обязателен", ErrValidation)
	}
	if state == "" {
		state = model.TapeStateActive
	}
	tape := &model.Tape{
		VID:          vid,
		State:        state,
		CreationTime: c.now(),
	}
	if err := c.adapter.CreateTape(ctx, tape); err != nil {
		return nil, fmt.Errorf("создание ленты vid=%s: %w", vid, err)
	}
	c.logger.Info("Лента зарегистрирована",
		slog.String("vid", vid),
		slog.String("state", state.String()),
	)
	return tape, nil
}

// SetTapeState меняет состояние ленты.
func (c *Catalogue) SetTapeState(ctx context.Context, vid string, state model.TapeState, reason string) (*model.Tape, error) {
	var r *string
	if reason != "" {
		r = &reason
	}
	if err := c.adapter.SetTapeState(ctx, vid, state, r); err != nil {
		return nil, fmt.Errorf("смена состояния ленты vid=%s: %w", vid, err)
	}
	c.logger.Info("Состояние ленты изменено",
		slog.String("vid", vid),
		slog.String("state", state.String()),
		slog.String("reason", reason),
	)
	return c.GetTape(ctx, vid)
}

// CreateMountPolicy создаёт политику монтирования.
func (c *Catalogue) CreateMountPolicy(ctx context.Context, policy *model.MountPolicy) error {
	if policy.Name == "" {
		return fmt.Errorf("%w: имя политики обязательно", ErrValidation)
	}
	policy.CreationTime = c.now()
	if err := c.adapter.CreateMountPolicy(ctx, policy); err != nil {
		return fmt.Errorf("создание политики %s: %w", policy.Name, err)
	}
	c.rules.Purge()
	return nil
}

// CreateMountRule создаёт правило выбора политики монтирования.
func (c *Catalogue) CreateMountRule(ctx context.Context, rule *model.MountRule) error {
	switch rule.Kind {
	case model.MountRuleRequester, model.MountRuleGroup:
		rule.ActivityRegex = ""
	case model.MountRuleActivity:
		if rule.ActivityRegex == "" {
			return fmt.Errorf("%w: activity_regex обязателен", ErrValidation)
		}
		if _, err := compileActivity(rule.ActivityRegex); err != nil {
			return fmt.Errorf("%w: некорректное регулярное выражение %q: %v", ErrValidation, rule.ActivityRegex, err)
		}
	default:
		return fmt.Errorf("%w: неизвестный вид правила %q", ErrValidation, rule.Kind)
	}
	if rule.DiskInstance == "" || rule.Name == "" || rule.MountPolicyName == "" {
		return fmt.Errorf("%w: disk_instance, name и mount_policy обязательны", ErrValidation)
	}
	if err := c.adapter.CreateMountRule(ctx, rule); err != nil {
		return fmt.Errorf("создание правила %s/%s: %w", rule.Kind, rule.Name, err)
	}
	c.rules.Purge()
	return nil
}

// CreateRequesterMountRule — правило для запрашивающего.
func (c *Catalogue) CreateRequesterMountRule(ctx context.Context, diskInstance, requester, policy, comment string) error {
	return c.CreateMountRule(ctx, &model.MountRule{
		Kind: model.MountRuleRequester, DiskInstance: diskInstance, Name: requester,
		MountPolicyName: policy, Comment: comment,
	})
}

// CreateRequesterGroupMountRule — правило для группы запрашивающих.
func (c *Catalogue) CreateRequesterGroupMountRule(ctx context.Context, diskInstance, group, policy, comment string) error {
	return c.CreateMountRule(ctx, &model.MountRule{
		Kind: model.MountRuleGroup, DiskInstance: diskInstance, Name: group,
		MountPolicyName: policy, Comment: comment,
	})
}

// CreateRequesterActivityMountRule — правило для запрашивающего и активности.
func (c *Catalogue) CreateRequesterActivityMountRule(ctx context.Context, diskInstance, requester, activityRegex, policy, comment string) error {
	return c.CreateMountRule(ctx, &model.MountRule{
		Kind: model.MountRuleActivity, DiskInstance: diskInstance, Name: requester,
		ActivityRegex: activityRegex, MountPolicyName: policy, Comment: comment,
	})
}

// compileActivity компилирует регулярное выражение активности
// с привязкой к началу и концу строки.
func compileActivity(expr string) (*regexp.Regexp, error) {
	return regexp.Compile("^(?:" + expr + ")$")
}
