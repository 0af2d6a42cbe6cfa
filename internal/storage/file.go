package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	logx "respawnbot/pkg/logx"
)

// fileStore keeps the dataset in memory and rewrites a CBOR snapshot after
// each mutation.
//
// Files:
//   - <prefix>.state.cbor  (atomic tmp+rename snapshot)
//   - <prefix>.audit.jsonl (append-only JSON Lines)
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	mem       *Memory
	statePath string
	auditFile *os.File
}

var (
	snapEnc cbor.EncMode
	snapDec cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	if snapEnc, err = opts.EncMode(); err != nil {
		panic("storage: cbor encoder: " + err.Error())
	}
	if snapDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("storage: cbor decoder: " + err.Error())
	}
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:       log,
		mem:       NewMemory(),
		statePath: prefix + ".state.cbor",
	}
	if err := s.loadSnapshot(); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.auditFile = af
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var d Dataset
	if err := snapDec.Unmarshal(b, &d); err != nil {
		return fmt.Errorf("decode %s: %w", s.statePath, err)
	}
	return s.mem.ReplaceAll(context.Background(), d)
}

// persist snapshots the current dataset. Caller holds s.mu.
func (s *fileStore) persist(ctx context.Context) error {
	d, err := s.mem.LoadAll(ctx)
	if err != nil {
		return err
	}
	b, err := snapEnc.Marshal(d)
	if err != nil {
		return err
	}

	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func (s *fileStore) SaveTimer(ctx context.Context, t TimerRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.SaveTimer(ctx, t); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *fileStore) ClearTimer(ctx context.Context, boss string, room int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.ClearTimer(ctx, boss, room); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *fileStore) SaveUserStat(ctx context.Context, st UserStatRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.SaveUserStat(ctx, st); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *fileStore) AddSubscription(ctx context.Context, userID, boss string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added, err := s.mem.AddSubscription(ctx, userID, boss)
	if err != nil || !added {
		return added, err
	}
	return true, s.persist(ctx)
}

func (s *fileStore) RemoveSubscription(ctx context.Context, userID, boss string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed, err := s.mem.RemoveSubscription(ctx, userID, boss)
	if err != nil || !removed {
		return removed, err
	}
	return true, s.persist(ctx)
}

func (s *fileStore) LoadAll(ctx context.Context) (Dataset, error) {
	return s.mem.LoadAll(ctx)
}

func (s *fileStore) ReplaceAll(ctx context.Context, d Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.ReplaceAll(ctx, d); err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.mem.Close()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}
