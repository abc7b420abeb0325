package repository

import (
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// mountRulesQuery — правила трёх видов одним запросом.
// Параметры: дисковый инстанс, запрашивающий, группа. Запрос общий для
// PostgreSQL и SQLite, отличаются только плейсхолдеры.
func mountRulesQuery(instance, requester, group string) string {
	const policy = `p.name, p.archive_priority, p.archive_min_request_age,
		p.retrieve_priority, p.retrieve_min_request_age, p.comment, p.creation_time`
	return fmt.Sprintf(`
		SELECT 'requester', r.disk_instance_name, r.requester_name, '', r.comment, %[4]s
		FROM requester_mount_rule r
		JOIN mount_policy p ON p.name = r.mount_policy_name
		WHERE r.disk_instance_name = %[1]s AND r.requester_name = %[2]s
		UNION ALL
		SELECT 'group', r.disk_instance_name, r.requester_group_name, '', r.comment, %[4]s
		FROM requester_group_mount_rule r
		JOIN mount_policy p ON p.name = r.mount_policy_name
		WHERE r.disk_instance_name = %[1]s AND r.requester_group_name = %[3]s
		UNION ALL
		SELECT 'activity', r.disk_instance_name, r.requester_name, r.activity_regex, r.comment, %[4]s
		FROM requester_activity_mount_rule r
		JOIN mount_policy p ON p.name = r.mount_policy_name
		WHERE r.disk_instance_name = %[1]s AND r.requester_name = %[2]s`,
		instance, requester, group, policy)
}

func scanMountRuleMatch(row scanner) (model.MountRuleMatch, error) {
	var m model.MountRuleMatch
	var kind string
	err := row.Scan(
		&kind, &m.Rule.DiskInstance, &m.Rule.Name, &m.Rule.ActivityRegex, &m.Rule.Comment,
		&m.Policy.Name, &m.Policy.ArchivePriority, &m.Policy.ArchiveMinRequestAge,
		&m.Policy.RetrievePriority, &m.Policy.RetrieveMinRequestAge, &m.Policy.Comment,
		timeScanner{&m.Policy.CreationTime},
	)
	m.Rule.Kind = model.MountRuleKind(kind)
	m.Rule.MountPolicyName = m.Policy.Name
	return m, err
}

// insertMountRuleQuery строит INSERT для правила; marker — "$" для
// PostgreSQL или "?" для SQLite.
func insertMountRuleQuery(r *model.MountRule, marker string) (string, []any, error) {
	ph := func(n int) string {
		if marker == "?" {
			return "?"
		}
		return fmt.Sprintf("$%d", n)
	}

	switch r.Kind {
	case model.MountRuleRequester:
		return fmt.Sprintf(`INSERT INTO requester_mount_rule
			(disk_instance_name, requester_name, mount_policy_name, comment)
			VALUES (%s, %s, %s, %s)`, ph(1), ph(2), ph(3), ph(4)),
			[]any{r.DiskInstance, r.Name, r.MountPolicyName, r.Comment}, nil
	case model.MountRuleGroup:
		return fmt.Sprintf(`INSERT INTO requester_group_mount_rule
			(disk_instance_name, requester_group_name, mount_policy_name, comment)
			VALUES (%s, %s, %s, %s)`, ph(1), ph(2), ph(3), ph(4)),
			[]any{r.DiskInstance, r.Name, r.MountPolicyName, r.Comment}, nil
	case model.MountRuleActivity:
		return fmt.Sprintf(`INSERT INTO requester_activity_mount_rule
			(disk_instance_name, requester_name, activity_regex, mount_policy_name, comment)
			VALUES (%s, %s, %s, %s, %s)`, ph(1), ph(2), ph(3), ph(4), ph(5)),
			[]any{r.DiskInstance, r.Name, r.ActivityRegex, r.MountPolicyName, r.Comment}, nil
	default:
		return "", nil, fmt.Errorf("неизвестный вид правила %q", r.Kind)
	}
}

// timeScanner читает время и из TIMESTAMPTZ PostgreSQL, и из TEXT SQLite:
// в составном SELECT SQLite теряет объявленный тип столбца.
type timeScanner struct {
	t *time.Time
}

func (s timeScanner) Scan(src any) error {
	var text string
	switch v := src.(type) {
	case nil:
		*s.t = time.Time{}
		return nil
	case time.Time:
		*s.t = v
		return nil
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return fmt.Errorf("неподдерживаемый тип времени %T", src)
	}
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			*s.t = t
			return nil
		}
	}
	return fmt.Errorf("не удалось разобрать время %q", text)
}
