// Package ledger persists week ledgers as semicolon separated files, one per week,
// and derives summaries from them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/receipt-ledger/internal/domain"
	"github.com/dvloznov/receipt-ledger/internal/logger"
	"github.com/gofrs/flock"
)

// Store reads and rewrites ledger files under one directory.
// Appends to the same week are serialized, across processes too, through an
// advisory lock file next to the ledger. Different weeks proceed in parallel.
type Store struct {
	dir   string
	locks *KeyedMutex

	// afterRead, when set, runs between reading and rewriting a ledger during Append.
	afterRead func(week domain.WeekID)
}

// NewStore creates a Store rooted at dir. The directory is created on first write.
func NewStore(dir string) *Store {
	return &Store{
		dir:   dir,
		locks: NewKeyedMutex(),
	}
}

// Dir returns the directory holding the ledger files.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the ledger file path for week.
func (s *Store) Path(week domain.WeekID) string {
	return filepath.Join(s.dir, string(week)+FileSuffix)
}

// LockPath returns the advisory lock file guarding week's ledger.
func (s *Store) LockPath(week domain.WeekID) string {
	return s.Path(week) + lockSuffix
}

// lockFile takes the exclusive advisory lock for week. The lock file is left in
// place so that every writer locks the same inode.
func (s *Store) lockFile(week domain.WeekID) (func(), error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	fl := flock.New(s.LockPath(week))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", week, err)
	}
	return func() { fl.Unlock() }, nil
}

// EnsureWritable creates the ledger directory and checks that files can be written into it.
func (s *Store) EnsureWritable() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("EnsureWritable: create %s: %w", s.dir, err)
	}
	f, err := os.CreateTemp(s.dir, ".write-check-*")
	if err != nil {
		return fmt.Errorf("EnsureWritable: %s is not writable: %w", s.dir, err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Append adds rec as the last row of the week's ledger. The whole file is read,
// extended and written back; a missing file starts with just the header.
// Existing rows, including malformed ones, are kept verbatim and in order.
func (s *Store) Append(ctx context.Context, week domain.WeekID, rec domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	row, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("Append: %s: %w", week, err)
	}

	if s.locks != nil {
		unlock := s.locks.Lock(string(week))
		defer unlock()

		unlockFile, err := s.lockFile(week)
		if err != nil {
			return fmt.Errorf("Append: %w", err)
		}
		defer unlockFile()
	}

	rows, err := s.readRows(week)
	if err != nil && !errors.Is(err, domain.ErrLedgerNotFound) {
		return fmt.Errorf("Append: %w", err)
	}

	if s.afterRead != nil {
		s.afterRead(week)
	}

	rows = append(rows, row)
	if err := s.writeRows(week, rows); err != nil {
		return fmt.Errorf("Append: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("calendar_week", string(week)).
		Str("file", rec.SourceFile).
		Int("rows", len(rows)).
		Msg("Appended ledger row")

	return nil
}

// Load reads the week's ledger. Rows without exactly five fields are excluded and
// counted in Ledger.Corrupt. Sum cells stay as text; see domain.Amount for coercion.
func (s *Store) Load(ctx context.Context, week domain.WeekID) (*domain.Ledger, error) {
	ledger, _, err := s.Snapshot(ctx, week)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return ledger, nil
}

// Snapshot returns the decoded ledger together with the file bytes it was decoded from.
func (s *Store) Snapshot(ctx context.Context, week domain.WeekID) (*domain.Ledger, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	f, err := os.Open(s.Path(week))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%s: %w", week, domain.ErrLedgerNotFound)
		}
		return nil, nil, fmt.Errorf("open %s: %w", week, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("stat %s: %w", week, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", week, err)
	}

	rows := splitLines(string(data))
	ledger := &domain.Ledger{
		Week:    week,
		Records: make([]domain.Record, 0, len(rows)),
		ModTime: info.ModTime(),
	}
	log := logger.FromContext(ctx)
	for i, line := range rows {
		rec, ok := decodeRow(line)
		if !ok {
			ledger.Corrupt++
			log.Warn().
				Err(domain.ErrLedgerCorrupt).
				Str("calendar_week", string(week)).
				Int("row", i+1).
				Msg("Skipping ledger row without five fields")
			continue
		}
		ledger.Records = append(ledger.Records, rec)
	}

	return ledger, data, nil
}

// Raw returns the ledger file bytes.
func (s *Store) Raw(ctx context.Context, week domain.WeekID) ([]byte, error) {
	_, data, err := s.Snapshot(ctx, week)
	if err != nil {
		return nil, fmt.Errorf("Raw: %w", err)
	}
	return data, nil
}

// Stat reports whether the week has a ledger and when it was last written.
func (s *Store) Stat(week domain.WeekID) (time.Time, bool, error) {
	info, err := os.Stat(s.Path(week))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("Stat: %w", err)
	}
	return info.ModTime(), true, nil
}

// Weeks lists the weeks that have a ledger file, in calendar order.
func (s *Store) Weeks() ([]domain.WeekID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("Weeks: %w", err)
	}

	var weeks []domain.WeekID
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileSuffix) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), FileSuffix)
		if domain.IsWeekID(name) {
			weeks = append(weeks, domain.WeekID(name))
		}
	}
	domain.SortWeeks(weeks)
	return weeks, nil
}

func (s *Store) readRows(week domain.WeekID) ([]string, error) {
	data, err := os.ReadFile(s.Path(week))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", week, domain.ErrLedgerNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", week, err)
	}
	return splitLines(string(data)), nil
}

// writeRows replaces the ledger through a temp file and rename in the same directory.
func (s *Store) writeRows(week domain.WeekID, rows []string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	var b strings.Builder
	b.WriteString(Header)
	b.WriteByte('\n')
	for _, r := range rows {
		b.WriteString(r)
		b.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(s.dir, string(week)+"_costs-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpName, s.Path(week)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}
