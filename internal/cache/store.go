// Package cache persists mailbox snapshots as date-ranged chunk files on
// disk and keeps them topped up incrementally, so the expensive mailbox
// provider is only asked for the gap since the last fetch.
package cache

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/seanmck/mailcorr/internal/fileutil"
	"github.com/seanmck/mailcorr/internal/mailbox"
)

const (
	chunkPrefix = "emails_"
	chunkSuffix = ".json"
	dayLayout   = "2006-01-02"
)

// Day truncates a time to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween returns the number of calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// ChunkDescriptor identifies one persisted chunk by its inclusive date
// range, parsed from the file name.
type ChunkDescriptor struct {
	Start time.Time
	End   time.Time
	Path  string
}

// chunkFileName encodes a date range as emails_<start>_<end>.json.
func chunkFileName(start, end time.Time) string {
	return chunkPrefix + Day(start).Format(dayLayout) + "_" + Day(end).Format(dayLayout) + chunkSuffix
}

// parseChunkName parses a chunk file name back into its date range.
// Malformed names report ok=false and are ignored by Scan.
func parseChunkName(name string) (start, end time.Time, ok bool) {
	if !strings.HasPrefix(name, chunkPrefix) || !strings.HasSuffix(name, chunkSuffix) {
		return time.Time{}, time.Time{}, false
	}
	core := strings.TrimSuffix(strings.TrimPrefix(name, chunkPrefix), chunkSuffix)
	parts := strings.Split(core, "_")
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, false
	}
	start, err := time.ParseInLocation(dayLayout, parts[0], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	end, err = time.ParseInLocation(dayLayout, parts[1], time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// Index is an explicit snapshot of the chunk files present on disk,
// sorted by start date ascending. Callers pass it back into reads so the
// directory is only re-scanned when the caller wants fresh state.
type Index struct {
	Chunks []ChunkDescriptor
}

// LastCoveredDate returns the end date of the chunk with the latest start
// date, or ok=false when no chunks exist.
func (ix Index) LastCoveredDate() (time.Time, bool) {
	if len(ix.Chunks) == 0 {
		return time.Time{}, false
	}
	// Chunks are sorted by start ascending; the active chunk is last.
	return ix.Chunks[len(ix.Chunks)-1].End, true
}

// Latest returns the chunk with the latest start date.
func (ix Index) Latest() (ChunkDescriptor, bool) {
	if len(ix.Chunks) == 0 {
		return ChunkDescriptor{}, false
	}
	return ix.Chunks[len(ix.Chunks)-1], true
}

// Store reads and writes chunk files in a single directory. Safe for a
// single writer; callers serialize mutating operations.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := fileutil.SecureMkdirAll(dir, 0o700); err != nil {
		return nil, eris.Wrapf(err, "create cache directory %s", dir)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

// Scan discovers persisted chunks and returns a fresh Index. File names
// that do not encode a valid date range are ignored. Chunk end dates
// claiming days after today are clamped to today.
func (s *Store) Scan(now time.Time) (Index, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return Index{}, eris.Wrapf(err, "read cache directory %s", s.dir)
	}

	today := Day(now)
	var chunks []ChunkDescriptor
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		start, end, ok := parseChunkName(e.Name())
		if !ok {
			continue
		}
		if end.After(today) {
			s.logger.Debug("clamping chunk end date to today", "file", e.Name())
			end = today
		}
		chunks = append(chunks, ChunkDescriptor{
			Start: start,
			End:   end,
			Path:  filepath.Join(s.dir, e.Name()),
		})
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Start.Before(chunks[j].Start) })
	return Index{Chunks: chunks}, nil
}

// ReadChunk loads all messages from one chunk file. An unparseable file
// is a corrupt-chunk error; callers skip it and continue with the rest.
func (s *Store) ReadChunk(desc ChunkDescriptor) ([]mailbox.MessageRecord, error) {
	data, err := os.ReadFile(desc.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "read chunk %s", desc.Path)
	}
	var msgs []mailbox.MessageRecord
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, eris.Wrapf(err, "corrupt chunk %s", desc.Path)
	}
	return msgs, nil
}

// ReadRange loads messages whose calendar day falls within [start, end]
// from every chunk overlapping that range. Corrupt chunks are logged and
// skipped. Order across chunks is not guaranteed; callers dedupe and sort
// as needed.
func (s *Store) ReadRange(ix Index, start, end time.Time) []mailbox.MessageRecord {
	startDay, endDay := Day(start), Day(end)
	var out []mailbox.MessageRecord

	for _, desc := range ix.Chunks {
		if desc.End.Before(startDay) || desc.Start.After(endDay) {
			continue
		}
		msgs, err := s.ReadChunk(desc)
		if err != nil {
			s.logger.Warn("skipping unreadable chunk", "file", desc.Path, "error", err)
			continue
		}
		for _, m := range msgs {
			day := m.Day()
			if day.Before(startDay) || day.After(endDay) {
				continue
			}
			out = append(out, m)
		}
	}
	return out
}

// WriteChunk serializes messages into a new chunk file named by its date
// range and returns its descriptor.
func (s *Store) WriteChunk(msgs []mailbox.MessageRecord, start, end time.Time) (ChunkDescriptor, error) {
	if msgs == nil {
		msgs = []mailbox.MessageRecord{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return ChunkDescriptor{}, eris.Wrap(err, "encode chunk")
	}

	path := filepath.Join(s.dir, chunkFileName(start, end))
	if err := fileutil.SecureWriteFile(path, data, 0o600); err != nil {
		return ChunkDescriptor{}, eris.Wrapf(err, "write chunk %s", path)
	}
	return ChunkDescriptor{Start: Day(start), End: Day(end), Path: path}, nil
}

// RemoveChunk deletes a chunk file. Used only after its replacement has
// been written: write-then-delete, never delete-then-write, so a crash in
// between cannot lose data.
func (s *Store) RemoveChunk(desc ChunkDescriptor) error {
	if err := os.Remove(desc.Path); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "remove chunk %s", desc.Path)
	}
	return nil
}
