package catalogue

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

// tapeUsage вычисляет приращение счётчиков ленты для пакета.
// Пакет из одних placeholder сдвигает last_fseq без изменения объёма.
func tapeUsage(b *Batch, prevLastFSeq uint64, now time.Time) model.TapeUsage {
	return model.TapeUsage{
		VID:          b.VID,
		PrevLastFSeq: prevLastFSeq,
		LastFSeq:     b.LastFSeq,
		Bytes:        b.Bytes,
		Files:        uint64(len(b.Files)),
		TapeDrive:    b.TapeDrive,
		WriteTime:    now,
	}
}

// accountTapeUsage применяет приращение как compare-and-set по прежнему
// last_fseq. Проигранный CAS означает, что позицию занял другой пакет.
func accountTapeUsage(ctx context.Context, tx TransactionAdapter, usage model.TapeUsage) error {
	applied, err := tx.UpdateTapeUsage(ctx, usage)
	if err != nil {
		return fmt.Errorf("обновление счётчиков ленты: %w", err)
	}
	if applied {
		return nil
	}

	tape, err := tx.LockTape(ctx, usage.VID)
	if err != nil {
		return fmt.Errorf("перечитывание ленты: %w", err)
	}
	return &FseqMismatchError{
		VID:        usage.VID,
		Expected:   tape.LastFSeq + 1,
		Actual:     usage.PrevLastFSeq + 1,
		Concurrent: true,
	}
}
