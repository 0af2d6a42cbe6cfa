// Package backup writes and restores JSON snapshots of the timer state.
//
// A backup is one document holding every table plus a timestamp. Files are
// named by id (backup-YYYYMMDD-HHMMSS-xxxxxxxx), optionally zstd compressed,
// and carry a blake3 sidecar of the JSON payload that is checked on load.
package backup

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"respawnbot/internal/eventbus"
	"respawnbot/internal/scheduler"
	"respawnbot/internal/storage"
	logx "respawnbot/pkg/logx"
)

const (
	extJSON  = ".json"
	extZstd  = ".json.zst"
	extSum   = ".b3"
	autoJob  = "backup.auto"
	idLayout = "20060102-150405"
)

var (
	ErrInvalidID        = errors.New("invalid backup id")
	ErrNotFound         = errors.New("backup not found")
	ErrChecksumMismatch = errors.New("backup checksum mismatch")
)

var idPattern = regexp.MustCompile(`^backup-\d{8}-\d{6}-[0-9a-f]{8}$`)

type Config struct {
	Dir      string
	Compress bool
	// Keep is how many backups survive pruning; 0 keeps everything.
	Keep int
	// Schedule drives automatic backups (see scheduler.ParseSchedule). Empty
	// disables them.
	Schedule string
}

// Document is the on-disk format. Row field names match the persisted schema.
type Document struct {
	Timers        []storage.TimerRow        `json:"boss_timers"`
	Stats         []storage.UserStatRow     `json:"user_stats"`
	Subscriptions []storage.SubscriptionRow `json:"user_notifications"`
	Timestamp     time.Time                 `json:"timestamp"`
}

func (d Document) Dataset() storage.Dataset {
	return storage.Dataset{Timers: d.Timers, Stats: d.Stats, Subscriptions: d.Subscriptions}
}

// Info describes one backup file.
type Info struct {
	ID         string    `json:"id"`
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	Created    time.Time `json:"created"`
	Compressed bool      `json:"compressed"`
	Checksum   bool      `json:"checksum"`
}

// Source is what gets backed up. *timer.Service satisfies it.
type Source interface {
	Export() storage.Dataset
	Restore(ctx context.Context, d storage.Dataset) error
}

type Scheduler interface {
	Add(name, schedule string, timeout time.Duration, job scheduler.Job) error
	Remove(name string) bool
}

type Options struct {
	Bus eventbus.Bus
	Log logx.Logger
	Now func() time.Time
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	src Source
	bus eventbus.Bus
	log logx.Logger
	now func() time.Time

	enc *zstd.Encoder
	dec *zstd.Decoder
}

func New(cfg Config, src Source, opts Options) (*Service, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	s := &Service{src: src, bus: opts.Bus, log: opts.Log, now: opts.Now, enc: enc, dec: dec}
	if s.bus == nil {
		s.bus = eventbus.Nop{}
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "backup"))
	if s.now == nil {
		s.now = time.Now
	}
	if err := s.Apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply swaps the configuration, creating the directory if needed.
func (s *Service) Apply(cfg Config) error {
	if strings.TrimSpace(cfg.Dir) == "" {
		cfg.Dir = "backups"
	}
	if cfg.Keep < 0 {
		cfg.Keep = 0
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return fmt.Errorf("backup dir: %w", err)
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Schedule registers (or removes) the automatic backup job.
func (s *Service) Schedule(sched Scheduler) error {
	if sched == nil {
		return nil
	}
	spec := strings.TrimSpace(s.config().Schedule)
	if spec == "" {
		sched.Remove(autoJob)
		return nil
	}
	return sched.Add(autoJob, spec, 2*time.Minute, func(ctx context.Context) error {
		_, err := s.Create(ctx)
		return err
	})
}

// Unschedule removes the automatic backup job, if registered.
func (s *Service) Unschedule(sched Scheduler) {
	if sched != nil {
		sched.Remove(autoJob)
	}
}

// NewID returns a fresh backup id for t.
func NewID(t time.Time) string {
	return "backup-" + t.UTC().Format(idLayout) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NormalizeID accepts an id or a file name and returns the bare id.
func NormalizeID(in string) (string, error) {
	id := filepath.Base(strings.TrimSpace(in))
	for _, ext := range []string{extSum, extZstd, extJSON} {
		id = strings.TrimSuffix(id, ext)
	}
	if !idPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, in)
	}
	return id, nil
}

// Create snapshots the source and writes it to disk, then prunes.
func (s *Service) Create(ctx context.Context) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	cfg := s.config()
	now := s.now()
	d := s.src.Export()
	doc := Document{
		Timers:        nonNil(d.Timers),
		Stats:         nonNil(d.Stats),
		Subscriptions: nonNil(d.Subscriptions),
		Timestamp:     now.UTC().Truncate(time.Second),
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return Info{}, fmt.Errorf("encode backup: %w", err)
	}

	id := NewID(now)
	name := id + extJSON
	data := payload
	if cfg.Compress {
		name = id + extZstd
		data = s.enc.EncodeAll(payload, nil)
	}
	path := filepath.Join(cfg.Dir, name)
	if err := writeFileAtomic(path, data); err != nil {
		return Info{}, err
	}
	sum := blake3.Sum256(payload)
	if err := writeFileAtomic(path+extSum, []byte(hex.EncodeToString(sum[:])+"\n")); err != nil {
		return Info{}, err
	}

	info := Info{ID: id, File: name, Size: int64(len(data)), Created: doc.Timestamp, Compressed: cfg.Compress, Checksum: true}
	s.log.Info("backup created", logx.String("id", id), logx.Int64("bytes", info.Size), logx.Int("timers", len(doc.Timers)))
	s.bus.Publish(eventbus.Event{Type: eventbus.BackupCreated, Data: info})

	if cfg.Keep > 0 {
		if n, err := s.Prune(cfg.Keep); err != nil {
			s.log.Warn("backup prune failed", logx.Err(err))
		} else if n > 0 {
			s.log.Debug("old backups pruned", logx.Int("removed", n))
		}
	}
	return info, nil
}

// List returns backups newest first.
func (s *Service) List() ([]Info, error) {
	dir := s.config().Dir
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	var out []Info
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var id string
		var compressed bool
		switch {
		case strings.HasSuffix(name, extZstd):
			id, compressed = strings.TrimSuffix(name, extZstd), true
		case strings.HasSuffix(name, extJSON):
			id = strings.TrimSuffix(name, extJSON)
		default:
			continue
		}
		if !idPattern.MatchString(id) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		created, _ := time.ParseInLocation(idLayout, id[len("backup-"):len("backup-")+len(idLayout)], time.UTC)
		_, sumErr := os.Stat(filepath.Join(dir, name+extSum))
		out = append(out, Info{
			ID:         id,
			File:       name,
			Size:       fi.Size(),
			Created:    created,
			Compressed: compressed,
			Checksum:   sumErr == nil,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Service) find(id string) (Info, error) {
	list, err := s.List()
	if err != nil {
		return Info{}, err
	}
	for _, in := range list {
		if in.ID == id {
			return in, nil
		}
	}
	return Info{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Load reads and verifies one backup.
func (s *Service) Load(id string) (Document, Info, error) {
	id, err := NormalizeID(id)
	if err != nil {
		return Document{}, Info{}, err
	}
	info, err := s.find(id)
	if err != nil {
		return Document{}, Info{}, err
	}
	path := filepath.Join(s.config().Dir, info.File)
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, info, fmt.Errorf("read backup: %w", err)
	}
	payload := raw
	if info.Compressed {
		if payload, err = s.dec.DecodeAll(raw, nil); err != nil {
			return Document{}, info, fmt.Errorf("zstd decompress: %w", err)
		}
	}
	if info.Checksum {
		want, err := os.ReadFile(path + extSum)
		if err != nil {
			return Document{}, info, fmt.Errorf("read checksum: %w", err)
		}
		sum := blake3.Sum256(payload)
		if strings.TrimSpace(string(want)) != hex.EncodeToString(sum[:]) {
			return Document{}, info, fmt.Errorf("%w: %s", ErrChecksumMismatch, id)
		}
	}

	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Document{}, info, fmt.Errorf("decode backup: %w", err)
	}
	return doc, info, nil
}

// Restore loads a backup and replaces the live state with it.
func (s *Service) Restore(ctx context.Context, id string) (Document, error) {
	doc, info, err := s.Load(id)
	if err != nil {
		return Document{}, err
	}
	if err := s.src.Restore(ctx, doc.Dataset()); err != nil {
		return Document{}, fmt.Errorf("restore %s: %w", info.ID, err)
	}
	s.log.Info("backup restored", logx.String("id", info.ID), logx.Time("taken", doc.Timestamp))
	s.bus.Publish(eventbus.Event{Type: eventbus.BackupRestored, Data: info})
	return doc, nil
}

// Prune deletes all but the newest keep backups.
func (s *Service) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	list, err := s.List()
	if err != nil {
		return 0, err
	}
	dir := s.config().Dir
	removed := 0
	var errs []error
	for _, in := range list[min(keep, len(list)):] {
		path := filepath.Join(dir, in.File)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		_ = os.Remove(path + extSum)
		removed++
	}
	return removed, errors.Join(errs...)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
