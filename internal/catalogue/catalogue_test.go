package catalogue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestCatalogue создаёт каталог над памятью с лентами vids в состоянии ACTIVE.
func newTestCatalogue(t *testing.T, vids ...string) (*Catalogue, *memAdapter) {
	t.Helper()
	a := newMemAdapter()
	c := New(a, NewMountRuleCache(100, time.Minute), testLogger())
	for _, vid := range vids {
		if _, err := c.CreateTape(context.Background(), vid, model.TapeStateActive); err != nil {
			t.Fatalf("CreateTape(%s) ошибка: %v", vid, err)
		}
	}
	return c, a
}

func mustRecord(t *testing.T, c *Catalogue, items ...model.TapeItemWritten) []model.RecycleLogEntry {
	t.Helper()
	retired, err := c.RecordTapeWriteBatch(context.Background(), items)
	if err != nil {
		t.Fatalf("RecordTapeWriteBatch() ошибка: %v", err)
	}
	return retired
}

// TestScenarioA — первая копия нового файла на пустой ленте.
func TestScenarioA(t *testing.T) {
	c, a := newTestCatalogue(t, "V1")
	mustRecord(t, c, fileItem("V1", 1, 1, 1, 100, "1234"))

	s := a.snapshot()
	af, ok := s.archiveFiles[1]
	if !ok {
		t.Fatal("ArchiveFile(1) не создан")
	}
	if af.SizeInBytes != 100 {
		t.Errorf("ArchiveFile(1).size = %d, ожидалось 100", af.SizeInBytes)
	}
	tf, ok := s.tapeFiles[position{"V1", 1}]
	if !ok {
		t.Fatal("TapeFile(V1,1) не создан")
	}
	if tf.CopyNb != 1 {
		t.Errorf("copyNb = %d, ожидался 1", tf.CopyNb)
	}
	tape := s.tapes["V1"]
	if tape.LastFSeq != 1 || tape.DataInBytes != 100 || tape.NbFiles != 1 {
		t.Errorf("Tape(V1): last_fseq=%d data=%d files=%d, ожидалось 1/100/1",
			tape.LastFSeq, tape.DataInBytes, tape.NbFiles)
	}
	if tape.LastWriteDrive == nil || *tape.LastWriteDrive != "drive-1" {
		t.Errorf("LastWriteDrive = %v, ожидался drive-1", tape.LastWriteDrive)
	}
}

// TestScenarioB — вторая копия с другим размером отклоняется.
func TestScenarioB(t *testing.T) {
	c, a := newTestCatalogue(t, "V1", "V2")
	mustRecord(t, c, fileItem("V1", 1, 1, 1, 100, "1234"))

	_, err := c.RecordTapeWriteBatch(context.Background(), []model.TapeItemWritten{
		fileItem("V2", 1, 1, 2, 200, "1234"),
	})
	if !errors.Is(err, ErrFileSizeMismatch) {
		t.Fatalf("ожидалась ErrFileSizeMismatch, получено %v", err)
	}
	var sizeErr *FileSizeMismatchError
	if !errors.As(err, &sizeErr) || sizeErr.Expected != 100 || sizeErr.Actual != 200 {
		t.Errorf("контекст ошибки: %v", err)
	}

	s := a.snapshot()
	if tape := s.tapes["V2"]; tape.LastFSeq != 0 || tape.NbFiles != 0 {
		t.Errorf("Tape(V2) изменена: %+v", tape)
	}
	for _, tf := range s.tapeFiles {
		if tf.CopyNb == 2 {
			t.Errorf("копия 2 не должна существовать: %+v", tf)
		}
	}
}

// TestContiguity — last_fseq равен наибольшему принятому fseq,
// позиции не повторяются, устаревший повтор пакета отклоняется.
func TestContiguity(t *testing.T) {
	c, a := newTestCatalogue(t, "V1")

	mustRecord(t, c, fileItem("V1", 1, 10, 1, 5, "a1"), fileItem("V1", 2, 11, 1, 5, "a2"))
	mustRecord(t, c, placeholder("V1", 3), placeholder("V1", 4))
	mustRecord(t, c, fileItem("V1", 5, 12, 1, 5, "a3"))

	_, err := c.RecordTapeWriteBatch(context.Background(), []model.TapeItemWritten{
		fileItem("V1", 5, 12, 1, 5, "a3"),
	})
	if !errors.Is(err, ErrFseqMismatch) {
		t.Fatalf("повтор пакета: ожидалась ErrFseqMismatch, получено %v", err)
	}

	_, err = c.RecordTapeWriteBatch(context.Background(), []model.TapeItemWritten{placeholder("V1", 7)})
	if !errors.Is(err, ErrFseqMismatch) {
		t.Fatalf("пропуск позиции: ожидалась ErrFseqMismatch, получено %v", err)
	}

	s := a.snapshot()
	tape := s.tapes["V1"]
	if tape.LastFSeq != 5 {
		t.Errorf("last_fseq = %d, ожидался 5", tape.LastFSeq)
	}
	if tape.NbFiles != 3 || tape.DataInBytes != 15 {
		t.Errorf("счётчики ленты: files=%d bytes=%d, ожидалось 3/15", tape.NbFiles, tape.DataInBytes)
	}
	if len(s.tapeFiles) != 3 {
		t.Errorf("копий на ленте = %d, ожидалось 3", len(s.tapeFiles))
	}
}

// TestContiguity_Concurrent — параллельные пакеты на одну позицию:
// принимается ровно один.
func TestContiguity_Concurrent(t *testing.T) {
	c, a := newTestCatalogue(t, "V1")

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.RecordTapeWriteBatch(context.Background(), []model.TapeItemWritten{
				fileItem("V1", 1, uint64(100+i), 1, 1, "ff"),
			})
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		switch {
		case err == nil:
			accepted++
		case !errors.Is(err, ErrFseqMismatch):
			t.Errorf("неожиданная ошибка: %v", err)
		}
	}
	if accepted != 1 {
		t.Errorf("принято пакетов = %d, ожидался 1", accepted)
	}
	if s := a.snapshot(); s.tapes["V1"].LastFSeq != 1 || len(s.tapeFiles) != 1 {
		t.Errorf("last_fseq=%d копий=%d, ожидалось 1/1", s.tapes["V1"].LastFSeq, len(s.tapeFiles))
	}
}

// TestIdempotentRegistration — две копии нового файла на разных лентах
// дают одну запись ArchiveFile.
func TestIdempotentRegistration(t *testing.T) {
	c, a := newTestCatalogue(t, "A", "B")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, vid := range []string{"A", "B"} {
		wg.Add(1)
		go func(i int, vid string) {
			defer wg.Done()
			_, errs[i] = c.RecordTapeWriteBatch(context.Background(), []model.TapeItemWritten{
				fileItem(vid, 1, 42, uint32(i+1), 64, "beef"),
			})
		}(i, vid)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("пакет %d: ошибка %v", i, err)
		}
	}
	s := a.snapshot()
	if len(s.archiveFiles) != 1 {
		t.Fatalf("ArchiveFile записей = %d, ожидалась 1", len(s.archiveFiles))
	}
	af, err := c.GetArchiveFile(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetArchiveFile() ошибка: %v", err)
	}
	if len(af.TapeFiles) != 2 {
		t.Errorf("живых копий = %d, ожидалось 2", len(af.TapeFiles))
	}
}

// TestSupersession — новая копия с тем же номером выводит старую в журнал.
func TestSupersession(t *testing.T) {
	c, a := newTestCatalogue(t, "V1", "V2")
	mustRecord(t, c, placeholder("V1", 1), placeholder("V1", 2), placeholder("V1", 3), placeholder("V1", 4))
	mustRecord(t, c, fileItem("V1", 5, 7, 1, 50, "77"))
	for fseq := uint64(1); fseq <= 8; fseq++ {
		mustRecord(t, c, placeholder("V2", fseq))
	}

	retired := mustRecord(t, c, fileItem("V2", 9, 7, 1, 50, "77"))
	if len(retired) != 1 {
		t.Fatalf("выведено копий = %d, ожидалась 1", len(retired))
	}
	e := retired[0]
	if e.VID != "V1" || e.FSeq != 5 || e.ArchiveFileID != 7 || e.CopyNb != 1 {
		t.Errorf("запись журнала: %+v", e)
	}
	if e.ReasonLog == "" {
		t.Error("причина вывода не заполнена")
	}
	if e.SizeInBytes != 50 || e.DiskFileIDWhenDeleted == "" {
		t.Errorf("снимок файла в журнале неполон: %+v", e)
	}

	s := a.snapshot()
	var live []model.TapeFile
	for _, tf := range s.tapeFiles {
		if tf.Key() == (model.CopyKey{ArchiveFileID: 7, CopyNb: 1}) {
			live = append(live, tf)
		}
	}
	if len(live) != 1 || live[0].VID != "V2" || live[0].FSeq != 9 {
		t.Errorf("живые копии (7,1): %+v, ожидалась только V2/9", live)
	}

	log, err := c.ListRecycleLog(context.Background(), "V1")
	if err != nil {
		t.Fatalf("ListRecycleLog() ошибка: %v", err)
	}
	if len(log) != 1 {
		t.Errorf("журнал V1 = %d записей, ожидалась 1", len(log))
	}
}

// TestSizeGuard_Snapshot — отклонённый пакет не меняет каталог.
func TestSizeGuard_Snapshot(t *testing.T) {
	c, a := newTestCatalogue(t, "V1", "V2")
	mustRecord(t, c, fileItem("V1", 1, 1, 1, 100, "1234"))

	before := a.snapshot()
	_, err := c.RecordTapeWriteBatch(context.Background(), []model.TapeItemWritten{
		fileItem("V2", 1, 5, 1, 10, "55"),
		fileItem("V2", 2, 1, 2, 101, "1234"),
	})
	if !errors.Is(err, ErrFileSizeMismatch) {
		t.Fatalf("ожидалась ErrFileSizeMismatch, получено %v", err)
	}
	after := a.snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Error("каталог изменился после отклонённого пакета")
	}
}

// TestRollbackOnBackendError — ошибка хранилища посреди транзакции
// не оставляет частичного состояния.
func TestRollbackOnBackendError(t *testing.T) {
	c, a := newTestCatalogue(t, "V1")
	before := a.snapshot()

	a.insertTapeFilesErr = &LostConnectionError{Op: "insert tape_file", Err: io.ErrUnexpectedEOF}
	_, err := c.RecordTapeWriteBatch(context.Background(), []model.TapeItemWritten{
		fileItem("V1", 1, 1, 1, 100, "1234"),
	})
	if !errors.Is(err, ErrLostConnection) || !errors.Is(err, ErrConnectivity) {
		t.Fatalf("ожидалась ErrLostConnection, получено %v", err)
	}
	if !reflect.DeepEqual(before, a.snapshot()) {
		t.Error("после обрыва связи осталось частичное состояние")
	}

	a.insertTapeFilesErr = nil
	mustRecord(t, c, fileItem("V1", 1, 1, 1, 100, "1234"))
}

// TestLostCAS — проигранный compare-and-set по last_fseq.
func TestLostCAS(t *testing.T) {
	c, a := newTestCatalogue(t, "V1")
	a.staleUsage = true

	_, err := c.RecordTapeWriteBatch(context.Background(), []model.TapeItemWritten{placeholder("V1", 1)})
	var mismatch *FseqMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("ожидалась *FseqMismatchError, получено %v", err)
	}
	if !mismatch.Concurrent {
		t.Error("ожидался признак Concurrent")
	}
}

// TestCommitConflict — отложенный конфликт уникальности при фиксации.
func TestCommitConflict(t *testing.T) {
	c, a := newTestCatalogue(t, "V1")
	a.commitErr = ErrCommitConflict

	_, err := c.RecordTapeWriteBatch(context.Background(), []model.TapeItemWritten{placeholder("V1", 1)})
	var mismatch *FseqMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("ожидалась *FseqMismatchError, получено %v", err)
	}
	if !mismatch.Concurrent || mismatch.Expected != 1 || mismatch.Actual != 1 {
		t.Errorf("контекст ошибки: %+v", mismatch)
	}
}

// TestUnknownTape — пакет на незарегистрированную ленту.
func TestUnknownTape(t *testing.T) {
	c, _ := newTestCatalogue(t)
	_, err := c.RecordTapeWriteBatch(context.Background(), []model.TapeItemWritten{placeholder("NOPE", 1)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestEmptyBatch — пустой пакет ничего не делает.
func TestEmptyBatch(t *testing.T) {
	c, a := newTestCatalogue(t, "V1")
	before := a.snapshot()
	retired, err := c.RecordTapeWriteBatch(context.Background(), nil)
	if err != nil || retired != nil {
		t.Fatalf("пустой пакет: retired=%v err=%v", retired, err)
	}
	if !reflect.DeepEqual(before, a.snapshot()) {
		t.Error("пустой пакет изменил каталог")
	}
}

// TestRetireTapeFileCopy проверяет явный вывод копии и защиту последней копии.
func TestRetireTapeFileCopy(t *testing.T) {
	ctx := context.Background()
	c, a := newTestCatalogue(t, "V1", "V2")
	mustRecord(t, c, fileItem("V1", 1, 3, 1, 30, "33"))
	mustRecord(t, c, fileItem("V2", 1, 3, 2, 30, "33"))

	entry, err := c.RetireTapeFileCopy(ctx, RetireRequest{ArchiveFileID: 3, VID: "V1", Reason: "лента списана"})
	if err != nil {
		t.Fatalf("RetireTapeFileCopy() ошибка: %v", err)
	}
	if entry.VID != "V1" || entry.CopyNb != 1 || entry.ReasonLog != "лента списана" {
		t.Errorf("запись журнала: %+v", entry)
	}

	_, err = c.RetireTapeFileCopy(ctx, RetireRequest{
		ArchiveFileID: 3, DiskInstance: "eosdev", DiskFileID: "disk-V1", CopyNb: 2, Reason: "ещё раз",
	})
	if !errors.Is(err, ErrUser) {
		t.Fatalf("последняя копия: ожидалась ErrUser, получено %v", err)
	}

	s := a.snapshot()
	if len(s.tapeFiles) != 1 || len(s.recycleLog) != 1 {
		t.Errorf("копий=%d записей журнала=%d, ожидалось 1/1", len(s.tapeFiles), len(s.recycleLog))
	}
}

// TestRetireTapeFileCopy_Invalid проверяет отказы на некорректные запросы.
func TestRetireTapeFileCopy_Invalid(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCatalogue(t, "V1", "V2")
	mustRecord(t, c, fileItem("V1", 1, 3, 1, 30, "33"))
	mustRecord(t, c, fileItem("V2", 1, 3, 2, 30, "33"))

	tests := []struct {
		name string
		req  RetireRequest
	}{
		{"без причины", RetireRequest{ArchiveFileID: 3, VID: "V1"}},
		{"без идентичности копии", RetireRequest{ArchiveFileID: 3, Reason: "x"}},
		{"неизвестный файл", RetireRequest{ArchiveFileID: 999, VID: "V1", Reason: "x"}},
		{"чужой дисковый инстанс", RetireRequest{ArchiveFileID: 3, DiskInstance: "other", DiskFileID: "disk-V1", CopyNb: 1, Reason: "x"}},
		{"нет копии на ленте", RetireRequest{ArchiveFileID: 3, VID: "V9", Reason: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.RetireTapeFileCopy(ctx, tt.req); !errors.Is(err, ErrUser) {
				t.Errorf("ожидалась ErrUser, получено %v", err)
			}
		})
	}
}
