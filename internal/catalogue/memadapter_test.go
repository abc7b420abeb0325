package catalogue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bigkaa/goartstore/tape-catalogue/internal/domain/model"
)

type position struct {
	vid  string
	fseq uint64
}

// memState — содержимое каталога в памяти.
type memState struct {
	archiveFiles map[uint64]model.ArchiveFile
	tapeFiles    map[position]model.TapeFile
	tapes        map[string]model.Tape
	recycleLog   []model.RecycleLogEntry
	policies     map[string]model.MountPolicy
	rules        []model.MountRule
}

func newMemState() *memState {
	return &memState{
		archiveFiles: map[uint64]model.ArchiveFile{},
		tapeFiles:    map[position]model.TapeFile{},
		tapes:        map[string]model.Tape{},
		policies:     map[string]model.MountPolicy{},
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.archiveFiles {
		c.archiveFiles[k] = v
	}
	for k, v := range s.tapeFiles {
		c.tapeFiles[k] = v
	}
	for k, v := range s.tapes {
		c.tapes[k] = v
	}
	for k, v := range s.policies {
		c.policies[k] = v
	}
	c.recycleLog = append(c.recycleLog, s.recycleLog...)
	c.rules = append(c.rules, s.rules...)
	return c
}

// memAdapter — Adapter поверх memState. Транзакция работает с копией
// состояния и подменяет им основное только при успехе.
type memAdapter struct {
	mu    sync.Mutex
	state *memState

	// commitErr — ошибка, возвращаемая вместо фиксации
	commitErr error
	// insertTapeFilesErr — ошибка InsertTapeFiles
	insertTapeFilesErr error
	// staleUsage — UpdateTapeUsage проигрывает CAS
	staleUsage bool

	mountRuleReads int
}

func newMemAdapter() *memAdapter {
	return &memAdapter{state: newMemState()}
}

func (a *memAdapter) Strategy() string { return "memory" }

func (a *memAdapter) WithTx(ctx context.Context, fn func(ctx context.Context, tx TransactionAdapter) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	work := a.state.clone()
	if err := fn(ctx, &memTx{a: a, s: work}); err != nil {
		return err
	}
	if a.commitErr != nil {
		return a.commitErr
	}
	a.state = work
	return nil
}

func (a *memAdapter) snapshot() *memState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.clone()
}

func (a *memAdapter) GetArchiveFile(_ context.Context, id uint64) (*model.ArchiveFile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	af, ok := a.state.archiveFiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	for _, tf := range a.state.sortedTapeFiles() {
		if tf.ArchiveFileID == id {
			af.TapeFiles = append(af.TapeFiles, tf)
		}
	}
	return &af, nil
}

func (a *memAdapter) GetTapeFileCopies(_ context.Context, id uint64) (*model.ArchiveFile, []model.TapeFileCopy, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	af, ok := a.state.archiveFiles[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	var copies []model.TapeFileCopy
	for _, tf := range a.state.sortedTapeFiles() {
		if tf.ArchiveFileID == id {
			copies = append(copies, model.TapeFileCopy{TapeFile: tf, TapeState: a.state.tapes[tf.VID].State})
		}
	}
	return &af, copies, nil
}

func (a *memAdapter) GetMountRules(_ context.Context, diskInstance, requester, group string) ([]model.MountRuleMatch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mountRuleReads++
	var out []model.MountRuleMatch
	for _, r := range a.state.rules {
		if r.DiskInstance != diskInstance {
			continue
		}
		if (r.Kind == model.MountRuleGroup && r.Name == group) || (r.Kind != model.MountRuleGroup && r.Name == requester) {
			out = append(out, model.MountRuleMatch{Rule: r, Policy: a.state.policies[r.MountPolicyName]})
		}
	}
	return out, nil
}

func (a *memAdapter) GetTape(_ context.Context, vid string) (*model.Tape, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.state.tapes[vid]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (a *memAdapter) ListRecycleLog(_ context.Context, vid string) ([]model.RecycleLogEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []model.RecycleLogEntry
	for _, e := range a.state.recycleLog {
		if e.VID == vid {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *memAdapter) CreateTape(_ context.Context, tape *model.Tape) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.state.tapes[tape.VID]; ok {
		return ErrConflict
	}
	a.state.tapes[tape.VID] = *tape
	return nil
}

func (a *memAdapter) SetTapeState(_ context.Context, vid string, state model.TapeState, reason *string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.state.tapes[vid]
	if !ok {
		return ErrNotFound
	}
	t.State = state
	t.StateReason = reason
	a.state.tapes[vid] = t
	return nil
}

func (a *memAdapter) CreateMountPolicy(_ context.Context, p *model.MountPolicy) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.state.policies[p.Name]; ok {
		return ErrConflict
	}
	a.state.policies[p.Name] = *p
	return nil
}

func (a *memAdapter) CreateMountRule(_ context.Context, r *model.MountRule) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.state.policies[r.MountPolicyName]; !ok {
		return fmt.Errorf("%w: политика %s", ErrNotFound, r.MountPolicyName)
	}
	a.state.rules = append(a.state.rules, *r)
	return nil
}

func (a *memAdapter) Ping(context.Context) error { return nil }

func (s *memState) sortedTapeFiles() []model.TapeFile {
	out := make([]model.TapeFile, 0, len(s.tapeFiles))
	for _, tf := range s.tapeFiles {
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VID != out[j].VID {
			return out[i].VID < out[j].VID
		}
		return out[i].FSeq < out[j].FSeq
	})
	return out
}

// memTx — TransactionAdapter над рабочей копией состояния.
type memTx struct {
	a *memAdapter
	s *memState
}

func (t *memTx) LockTape(_ context.Context, vid string) (*model.Tape, error) {
	tape, ok := t.s.tapes[vid]
	if !ok {
		return nil, fmt.Errorf("%w: лента %s", ErrNotFound, vid)
	}
	return &tape, nil
}

func (t *memTx) GetArchiveFiles(_ context.Context, ids []uint64) (map[uint64]*model.ArchiveFile, error) {
	out := make(map[uint64]*model.ArchiveFile, len(ids))
	for _, id := range ids {
		if af, ok := t.s.archiveFiles[id]; ok {
			out[id] = &af
		}
	}
	return out, nil
}

func (t *memTx) InsertArchiveFilesIfAbsent(_ context.Context, files []*model.ArchiveFile) error {
	for _, af := range files {
		if _, ok := t.s.archiveFiles[af.ArchiveFileID]; !ok {
			t.s.archiveFiles[af.ArchiveFileID] = *af
		}
	}
	return nil
}

func (t *memTx) LiveCopies(_ context.Context, keys []model.CopyKey) ([]model.TapeFile, error) {
	want := make(map[model.CopyKey]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	var out []model.TapeFile
	for _, tf := range t.s.sortedTapeFiles() {
		if want[tf.Key()] {
			out = append(out, tf)
		}
	}
	return out, nil
}

func (t *memTx) ArchiveFileCopies(_ context.Context, id uint64) ([]model.TapeFile, error) {
	var out []model.TapeFile
	for _, tf := range t.s.sortedTapeFiles() {
		if tf.ArchiveFileID == id {
			out = append(out, tf)
		}
	}
	return out, nil
}

func (t *memTx) MoveToRecycleLog(_ context.Context, entries []model.RecycleLogEntry) error {
	for _, e := range entries {
		pos := position{e.VID, e.FSeq}
		if _, ok := t.s.tapeFiles[pos]; !ok {
			return fmt.Errorf("копия vid=%s fseq=%d не найдена", e.VID, e.FSeq)
		}
		delete(t.s.tapeFiles, pos)
		t.s.recycleLog = append(t.s.recycleLog, e)
	}
	return nil
}

func (t *memTx) InsertTapeFiles(_ context.Context, files []model.TapeFile) error {
	if t.a.insertTapeFilesErr != nil {
		return t.a.insertTapeFilesErr
	}
	for _, tf := range files {
		pos := position{tf.VID, tf.FSeq}
		if _, ok := t.s.tapeFiles[pos]; ok {
			return fmt.Errorf("%w: vid=%s fseq=%d", ErrConflict, tf.VID, tf.FSeq)
		}
		for _, live := range t.s.tapeFiles {
			if live.Key() == tf.Key() {
				return fmt.Errorf("%w: archive_file_id=%d copy_nb=%d", ErrConflict, tf.ArchiveFileID, tf.CopyNb)
			}
		}
		t.s.tapeFiles[pos] = tf
	}
	return nil
}

func (t *memTx) UpdateTapeUsage(_ context.Context, u model.TapeUsage) (bool, error) {
	tape, ok := t.s.tapes[u.VID]
	if !ok {
		return false, ErrNotFound
	}
	if t.a.staleUsage || tape.LastFSeq != u.PrevLastFSeq {
		if t.a.staleUsage {
			tape.LastFSeq = u.LastFSeq
			t.s.tapes[u.VID] = tape
		}
		return false, nil
	}
	tape.LastFSeq = u.LastFSeq
	tape.DataInBytes += u.Bytes
	tape.NbFiles += u.Files
	drive := u.TapeDrive
	wt := u.WriteTime
	tape.LastWriteDrive = &drive
	tape.LastWriteTime = &wt
	t.s.tapes[u.VID] = tape
	return true, nil
}
