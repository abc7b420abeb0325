package catalogue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// MountRuleCache — LRU-кэш правил монтирования с TTL.
// Ключ — (дисковый инстанс, запрашивающий, группа). Каждый экземпляр
// сервиса держит собственный кэш; создание правил и политик сбрасывает его.
// Нулевой указатель допустим и означает работу без кэша.
type MountRuleCache struct {
	cache *expirable.LRU[string, []model.MountRuleMatch]
}

// NewMountRuleCache создаёт кэш на maxSize ключей с временем жизни ttl.
func NewMountRuleCache(maxSize int, ttl time.Duration) *MountRuleCache {
	return &MountRuleCache{
		cache: expirable.NewLRU[string, []model.MountRuleMatch](maxSize, nil, ttl),
	}
}

func mountRuleKey(diskInstance, requester, group string) string {
	return diskInstance + "\x00" + requester + "\x00" + group
}

// Get возвращает правила из кэша. Обновляет метрики hit/miss.
func (c *MountRuleCache) Get(diskInstance, requester, group string) ([]model.MountRuleMatch, bool) {
	if c == nil {
		return nil, false
	}
	val, ok := c.cache.Get(mountRuleKey(diskInstance, requester, group))
	if ok {
		mountRuleCacheHitsTotal.Inc()
		return val, true
	}
	mountRuleCacheMissesTotal.Inc()
	return nil, false
}

// Set сохраняет правила в кэше.
func (c *MountRuleCache) Set(diskInstance, requester, group string, rules []model.MountRuleMatch) {
	if c == nil {
		return
	}
	c.cache.Add(mountRuleKey(diskInstance, requester, group), rules)
}

// Purge очищает кэш.
func (c *MountRuleCache) Purge() {
	if c == nil {
		return
	}
	c.cache.Purge()
}

// mountRules возвращает правила через кэш.
func (c *Catalogue) mountRules(ctx context.Context, diskInstance string, requester model.RequesterIdentity) ([]model.MountRuleMatch, error) {
	if rules, ok := c.rules.Get(diskInstance, requester.Name, requester.Group); ok {
		return rules, nil
	}
	rules, err := c.adapter.GetMountRules(ctx, diskInstance, requester.Name, requester.Group)
	if err != nil {
		return nil, err
	}
	c.rules.Set(diskInstance, requester.Name, requester.Group, rules)
	return rules, nil
}

// selectMountPolicy выбирает политику по специфичности правила:
// запрашивающий с активностью, затем запрашивающий, затем группа.
// Среди правил одного уровня побеждает наибольший приоритет восстановления.
func selectMountPolicy(
	rules []model.MountRuleMatch,
	requester model.RequesterIdentity,
	activity string,
	logger *slog.Logger,
) (*model.MountPolicy, bool) {
	var byActivity, byRequester, byGroup []model.MountPolicy
	for _, m := range rules {
		switch m.Rule.Kind {
		case model.MountRuleActivity:
			if activity == "" || m.Rule.Name != requester.Name {
				continue
			}
			re, err := compileActivity(m.Rule.ActivityRegex)
			if err != nil {
				logger.Warn("Некорректное регулярное выражение активности в правиле",
					slog.String("requester", m.Rule.Name),
					slog.String("activity_regex", m.Rule.ActivityRegex),
					slog.String("error", err.Error()),
				)
				continue
			}
			if re.MatchString(activity) {
				byActivity = append(byActivity, m.Policy)
			}
		case model.MountRuleRequester:
			if m.Rule.Name == requester.Name {
				byRequester = append(byRequester, m.Policy)
			}
		case model.MountRuleGroup:
			if m.Rule.Name == requester.Group {
				byGroup = append(byGroup, m.Policy)
			}
		}
	}

	for _, candidates := range [][]model.MountPolicy{byActivity, byRequester, byGroup} {
		if len(candidates) == 0 {
			continue
		}
		best := candidates[0]
		for _, p := range candidates[1:] {
			if p.RetrievePriority > best.RetrievePriority {
				best = p
			}
		}
		return &best, true
	}
	return nil, false
}
