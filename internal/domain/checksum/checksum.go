// Пакет checksum — набор контрольных сумм файла (алгоритм → значение)
// и сверка набора, сообщённого дисковой системой, с набором из каталога.
//
// Значения хранятся в нормализованном виде: нижний регистр, без префикса 0x,
// для 32-битных алгоритмов без ведущих нулей. Поэтому "0x00001234" и "1234"
// для ADLER32 считаются одним значением.
package checksum

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Type — алгоритм контрольной суммы.
type Type string

const (
	ADLER32 Type = "ADLER32"
	CRC32   Type = "CRC32"
	CRC32C  Type = "CRC32C"
	MD5     Type = "MD5"
	SHA1    Type = "SHA1"
)

// knownTypes — поддерживаемые алгоритмы.
var knownTypes = map[Type]bool{
	ADLER32: true,
	CRC32:   true,
	CRC32C:  true,
	MD5:     true,
	SHA1:    true,
}

// ParseType разбирает имя алгоритма (регистр не важен).
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !knownTypes[t] {
		return "", fmt.Errorf("неизвестный тип контрольной суммы %q", s)
	}
	return t, nil
}

// Ошибки сверки.
var (
	// ErrTypeMismatch — наборы не имеют общего алгоритма.
	ErrTypeMismatch = errors.New("типы контрольных сумм не совпадают")
	// ErrValueMismatch — значения общего алгоритма различаются.
	ErrValueMismatch = errors.New("значения контрольных сумм не совпадают")
)

// Blob — набор контрольных сумм файла.
type Blob map[Type]string

// New создаёт Blob с одной контрольной суммой.
func New(t Type, value string) Blob {
	return Blob{t: normalize(t, value)}
}

// Set добавляет (или заменяет) значение алгоритма.
func (b Blob) Set(t Type, value string) {
	b[t] = normalize(t, value)
}

// Get возвращает значение алгоритма.
func (b Blob) Get(t Type) (string, bool) {
	v, ok := b[t]
	return v, ok
}

// Types возвращает отсортированный список алгоритмов набора.
func (b Blob) Types() []Type {
	types := make([]Type, 0, len(b))
	for t := range b {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// IsEmpty — набор пуст.
func (b Blob) IsEmpty() bool {
	return len(b) == 0
}

// String — компактное представление вида "ADLER32:1234,MD5:abcd".
func (b Blob) String() string {
	parts := make([]string, 0, len(b))
	for _, t := range b.Types() {
		parts = append(parts, string(t)+":"+b[t])
	}
	return strings.Join(parts, ",")
}

// Encode сериализует набор для хранения в столбце checksum_blob.
func (b Blob) Encode() (string, error) {
	if b == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[Type]string(b))
	if err != nil {
		return "", fmt.Errorf("сериализация контрольных сумм: %w", err)
	}
	return string(data), nil
}

// Decode разбирает значение столбца checksum_blob.
func Decode(s string) (Blob, error) {
	raw := map[string]string{}
	if strings.TrimSpace(s) != "" {
		if err := json.Unmarshal([]byte(s), &raw); err != nil {
			return nil, fmt.Errorf("десериализация контрольных сумм: %w", err)
		}
	}
	b := make(Blob, len(raw))
	for k, v := range raw {
		t, err := ParseType(k)
		if err != nil {
			return nil, err
		}
		b.Set(t, v)
	}
	return b, nil
}

// FromMap строит Blob из внешнего представления (JSON API),
// проверяя имена алгоритмов.
func FromMap(m map[string]string) (Blob, error) {
	b := make(Blob, len(m))
	for k, v := range m {
		t, err := ParseType(k)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("пустое значение контрольной суммы %s", t)
		}
		b.Set(t, v)
	}
	return b, nil
}

// MismatchError — расхождение набора, сообщённого диском, с набором каталога.
type MismatchError struct {
	// Kind — ErrTypeMismatch или ErrValueMismatch
	Kind error
	// Type — алгоритм, по которому найдено расхождение (для ErrValueMismatch)
	Type Type
	// Expected — значение (или набор) в каталоге
	Expected string
	// Actual — значение (или набор), сообщённое диском
	Actual string
}

func (e *MismatchError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %s ожидалось=%s получено=%s", e.Kind, e.Type, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s: ожидалось=[%s] получено=[%s]", e.Kind, e.Expected, e.Actual)
}

func (e *MismatchError) Unwrap() error {
	return e.Kind
}

// Reconcile сверяет набор reported с сохранённым набором stored.
//
// Оба пустых набора совпадают. Если пуст только один из наборов или наборы
// не имеют ни одного общего алгоритма, возвращается ErrTypeMismatch. Для каждого общего
// алгоритма значения должны совпадать, иначе ErrValueMismatch.
func Reconcile(stored, reported Blob) error {
	if stored.IsEmpty() && reported.IsEmpty() {
		return nil
	}

	shared := 0
	for _, t := range stored.Types() {
		actual, ok := reported[t]
		if !ok {
			continue
		}
		shared++
		if expected := stored[t]; expected != actual {
			return &MismatchError{
				Kind:     ErrValueMismatch,
				Type:     t,
				Expected: expected,
				Actual:   actual,
			}
		}
	}

	if shared == 0 {
		return &MismatchError{
			Kind:     ErrTypeMismatch,
			Expected: stored.String(),
			Actual:   reported.String(),
		}
	}
	return nil
}

// normalize приводит значение к каноническому виду.
func normalize(t Type, value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.TrimPrefix(v, "0x")
	switch t {
	case ADLER32, CRC32, CRC32C:
		v = strings.TrimLeft(v, "0")
		if v == "" {
			v = "0"
		}
	}
	return v
}
