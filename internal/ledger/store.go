package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"github.com/zombor/screen-watchdog/internal/table"
)

// entry is the on-disk shape of a row. Amount is written as a plain JSON
// number so the file stays readable by other tools.
type entry struct {
	Event  string      `json:"event"`
	Time   string      `json:"time"`
	Amount json.Number `json:"amount"`
	ID     string      `json:"unique_id"`
}

// Store keeps every row ever seen in a single JSON array file
type Store struct {
	path string
}

// NewStore creates a Store backed by the file at path. The file does not need
// to exist yet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path
func (s *Store) Path() string {
	return s.path
}

// Load reads the ledger. A missing or unreadable file is treated as an empty
// history; the problem is logged, never returned. A file that is not a JSON
// array is moved aside to CorruptPath so the next write cannot destroy it.
// Entries that cannot be read are skipped and the rest are kept.
func (s *Store) Load() []table.Row {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read ledger, starting with empty history", "path", s.path, "error", err)
		}
		return []table.Row{}
	}

	rows, err := decode(data)
	if err != nil {
		slog.Warn("Ledger is not valid, starting with empty history", "path", s.path, "error", err)
		if err := os.Rename(s.path, s.CorruptPath()); err != nil {
			slog.Error("Failed to move invalid ledger aside", "path", s.path, "error", err)
		} else {
			slog.Warn("Moved invalid ledger aside", "path", s.CorruptPath())
		}
		return []table.Row{}
	}

	slog.Info("Loaded ledger", "path", s.path, "rows", len(rows))
	return rows
}

// CorruptPath is where an unreadable ledger file is kept
func (s *Store) CorruptPath() string {
	return s.path + ".corrupt"
}

// AppendAndPersist appends newRows to known and rewrites the whole file. The
// returned slice is the new authoritative state even when the write fails;
// the error is only for reporting.
func (s *Store) AppendAndPersist(known, newRows []table.Row) ([]table.Row, error) {
	updated := make([]table.Row, 0, len(known)+len(newRows))
	updated = append(updated, known...)
	updated = append(updated, newRows...)

	if err := s.write(updated); err != nil {
		return updated, fmt.Errorf("persisting ledger: %w", err)
	}

	slog.Info("Saved ledger", "path", s.path, "rows", len(updated))
	return updated, nil
}

// write replaces the file atomically: temp file in the same directory,
// fsync, then rename over the old one.
func (s *Store) write(rows []table.Row) error {
	data, err := encode(rows)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("setting ledger permissions: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replacing ledger: %w", err)
	}
	return nil
}

// FilterNew returns the candidates whose identity is not in known, in
// candidate order. It is stricter than a plain set difference: a repeated
// identity inside candidates is kept only once, so one scan never records
// the same identity twice.
func FilterNew(candidates, known []table.Row) []table.Row {
	seen := make(map[string]struct{}, len(known)+len(candidates))
	for _, row := range known {
		seen[row.ID] = struct{}{}
	}

	fresh := make([]table.Row, 0)
	for _, row := range candidates {
		if _, ok := seen[row.ID]; ok {
			continue
		}
		seen[row.ID] = struct{}{}
		fresh = append(fresh, row)
	}
	return fresh
}

func encode(rows []table.Row) ([]byte, error) {
	entries := make([]entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entry{
			Event:  row.Event,
			Time:   row.Time,
			Amount: json.Number(row.Amount.StringFixed(2)),
			ID:     row.ID,
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling ledger: %w", err)
	}
	return append(data, '\n'), nil
}

// decode fails only when data is not a JSON array. A bad entry is logged and
// skipped.
func decode(data []byte) ([]table.Row, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling ledger: %w", err)
	}

	rows := make([]table.Row, 0, len(raw))
	for i, item := range raw {
		row, err := decodeEntry(item)
		if err != nil {
			slog.Warn("Skipping unreadable ledger entry", "entry", i, "error", err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodeEntry(item json.RawMessage) (table.Row, error) {
	var e entry
	if err := json.Unmarshal(item, &e); err != nil {
		return table.Row{}, fmt.Errorf("unmarshaling entry: %w", err)
	}

	amount, err := decimal.NewFromString(e.Amount.String())
	if err != nil {
		return table.Row{}, fmt.Errorf("parsing amount %q: %w", e.Amount, err)
	}

	id := e.ID
	if id == "" {
		id = table.IdentityOf(e.Time, amount)
	}
	return table.Row{
		Event:  e.Event,
		Time:   e.Time,
		Amount: amount,
		ID:     id,
	}, nil
}
