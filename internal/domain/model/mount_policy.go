package model

import "time"

// MountPolicy — политика монтирования: приоритет и минимальный возраст запросов.
type MountPolicy struct {
	Name                  string    `json:"name"`
	ArchivePriority       uint64    `json:"archive_priority"`
	ArchiveMinRequestAge  uint64    `json:"archive_min_request_age"`
	RetrievePriority      uint64    `json:"retrieve_priority"`
	RetrieveMinRequestAge uint64    `json:"retrieve_min_request_age"`
	Comment               string    `json:"comment"`
	CreationTime          time.Time `json:"creation_time"`
}

// MountRuleKind — вид правила выбора политики монтирования.
type MountRuleKind string

const (
	// MountRuleRequester — правило для конкретного запрашивающего
	MountRuleRequester MountRuleKind = "requester"
	// MountRuleGroup — правило для группы запрашивающих
	MountRuleGroup MountRuleKind = "group"
	// MountRuleActivity — правило для запрашивающего и активности (регулярное выражение)
	MountRuleActivity MountRuleKind = "activity"
)

// MountRule — правило, связывающее запрашивающего с политикой монтирования.
type MountRule struct {
	Kind         MountRuleKind `json:"kind"`
	DiskInstance string        `json:"disk_instance"`
	// Name — имя запрашивающего или группы (для MountRuleGroup)
	Name string `json:"name"`
	// ActivityRegex — только для MountRuleActivity
	ActivityRegex   string `json:"activity_regex,omitempty"`
	MountPolicyName string `json:"mount_policy"`
	Comment         string `json:"comment"`
}

// MountRuleMatch — правило вместе с политикой, на которую оно ссылается.
type MountRuleMatch struct {
	Rule   MountRule
	Policy MountPolicy
}

// RequesterIdentity — кто запрашивает восстановление файла.
type RequesterIdentity struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

// RetrieveQueueCriteria — результат подготовки восстановления:
// файл с пригодными копиями и выбранная политика монтирования.
type RetrieveQueueCriteria struct {
	ArchiveFile ArchiveFile `json:"archive_file"`
	MountPolicy MountPolicy `json:"mount_policy"`
}
