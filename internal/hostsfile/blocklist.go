// Package hostsfile edits a marker-delimited region of a hosts-style file,
// redirecting blocked domains to loopback addresses.
package hostsfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/obyrne/wardend/internal/schedule"
	"github.com/obyrne/wardend/internal/storage"
)

const (
	// StartMarker and EndMarker delimit the managed region. Lines outside
	// the markers are never touched.
	StartMarker = "# wardend blocklist start"
	EndMarker   = "# wardend blocklist end"

	cacheSize = 1024
)

// Blocklist manages the wardend region of a hosts file. All file access is
// serialized by an internal lock; concurrent edits by other processes are
// not detected.
type Blocklist struct {
	path   string
	store  storage.WebsiteStore
	clock  schedule.Clock
	logger zerolog.Logger

	mu    sync.Mutex
	cache *lru.Cache[string, bool]
}

// NewBlocklist creates a blocklist editor for the given hosts file. The
// website store mirrors the file's entries with category and reason
// metadata; it may be nil when only file edits are wanted.
func NewBlocklist(path string, store storage.WebsiteStore, clock schedule.Clock, logger zerolog.Logger) (*Blocklist, error) {
	if clock == nil {
		clock = schedule.RealClock{}
	}
	cache, err := lru.New[string, bool](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Blocklist{
		path:   path,
		store:  store,
		clock:  clock,
		logger: logger.With().Str("component", "hostsfile").Logger(),
		cache:  cache,
	}, nil
}

// Normalize canonicalizes a domain input: lowercase, scheme stripped,
// leading www. stripped, trailing slash trimmed.
func Normalize(input string) string {
	d := strings.ToLower(strings.TrimSpace(input))
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "www.")
	d = strings.TrimRight(d, "/")
	return d
}

// Block adds loopback redirects for the domain. Blocking an already-blocked
// domain is a no-op success. The inserted entry is one comment line followed
// by IPv4 and IPv6 redirects for the bare and www-prefixed forms.
func (b *Blocklist) Block(ctx context.Context, input, category, reason string) error {
	domain := Normalize(input)
	if domain == "" {
		return fmt.Errorf("empty domain after normalizing %q", input)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	lines, err := b.readLines()
	if err != nil {
		return err
	}
	lines, start, end := ensureMarkers(lines)

	if regionContains(lines[start+1:end], domain) {
		b.cache.Add(domain, true)
		return nil
	}

	now := b.clock.Now()
	entry := []string{
		fmt.Sprintf("# %s: %s - Blocked at %s", category, input, now.Format(time.RFC3339)),
		"127.0.0.1 " + domain,
		"::1 " + domain,
		"127.0.0.1 www." + domain,
		"::1 www." + domain,
	}

	out := make([]string, 0, len(lines)+len(entry))
	out = append(out, lines[:end]...)
	out = append(out, entry...)
	out = append(out, lines[end:]...)

	if err := b.writeLines(out); err != nil {
		return err
	}
	b.cache.Add(domain, true)

	if b.store != nil {
		site := storage.BlockedWebsite{
			Domain:    domain,
			Input:     input,
			Category:  category,
			Reason:    reason,
			BlockedAt: now,
		}
		if err := b.store.Upsert(ctx, site); err != nil {
			b.logger.Error().Err(err).Str("domain", domain).Msg("Failed to record blocked website")
		}
	}

	b.logger.Info().Str("domain", domain).Str("category", category).Msg("Blocked website")
	return nil
}

// Unblock removes every line in the managed region that references the
// domain. Unblocking an unknown domain is a no-op success.
func (b *Blocklist) Unblock(ctx context.Context, input string) error {
	domain := Normalize(input)
	if domain == "" {
		return fmt.Errorf("empty domain after normalizing %q", input)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	lines, err := b.readLines()
	if err != nil {
		return err
	}
	_, start, end := markerBounds(lines)
	hadMarkers := start >= 0
	lines, start, end = ensureMarkers(lines)

	out := make([]string, 0, len(lines))
	out = append(out, lines[:start+1]...)
	removed := false
	for _, line := range lines[start+1 : end] {
		if lineReferences(line, domain) {
			removed = true
			continue
		}
		out = append(out, line)
	}
	out = append(out, lines[end:]...)

	if removed || !hadMarkers {
		if err := b.writeLines(out); err != nil {
			return err
		}
	}
	b.cache.Add(domain, false)

	if b.store != nil {
		if err := b.store.Delete(ctx, domain); err != nil && !errors.Is(err, storage.ErrNotFound) {
			b.logger.Error().Err(err).Str("domain", domain).Msg("Failed to delete blocked website record")
		}
	}

	if removed {
		b.logger.Info().Str("domain", domain).Msg("Unblocked website")
	}
	return nil
}

// IsBlocked reports whether the domain currently has an entry in the
// managed region. Results are cached until the next Block/Unblock.
func (b *Blocklist) IsBlocked(input string) (bool, error) {
	domain := Normalize(input)
	if domain == "" {
		return false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if blocked, ok := b.cache.Get(domain); ok {
		return blocked, nil
	}

	lines, err := b.readLines()
	if err != nil {
		return false, err
	}
	_, start, end := markerBounds(lines)
	blocked := start >= 0 && regionContains(lines[start+1:end], domain)
	b.cache.Add(domain, blocked)
	return blocked, nil
}

// List returns the blocked websites recorded in the mirror store.
func (b *Blocklist) List(ctx context.Context) ([]storage.BlockedWebsite, error) {
	if b.store == nil {
		return nil, nil
	}
	return b.store.List(ctx)
}

func (b *Blocklist) readLines() ([]string, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	content := strings.TrimSuffix(string(data), "\n")
	if content == "" {
		return nil, nil
	}
	return strings.Split(content, "\n"), nil
}

// writeLines writes the whole file through a temp file and an atomic rename
// so a crash mid-write never leaves a truncated hosts file.
func (b *Blocklist) writeLines(lines []string) error {
	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, ".wardend-hosts-*")
	if err != nil {
		return fmt.Errorf("create temp hosts file: %w", err)
	}
	tmpName := tmp.Name()

	_, err = tmp.WriteString(strings.Join(lines, "\n") + "\n")
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp hosts file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", b.path, err)
	}
	return nil
}

// ensureMarkers appends an empty marker pair at end-of-file when missing and
// returns the line slice with the marker indices.
func ensureMarkers(lines []string) ([]string, int, int) {
	if _, start, end := markerBounds(lines); start >= 0 {
		return lines, start, end
	}
	lines = append(lines, StartMarker, EndMarker)
	return lines, len(lines) - 2, len(lines) - 1
}

// markerBounds locates the marker pair; start is -1 when absent.
func markerBounds(lines []string) ([]string, int, int) {
	start, end := -1, -1
	for i, line := range lines {
		switch strings.TrimSpace(line) {
		case StartMarker:
			if start < 0 {
				start = i
			}
		case EndMarker:
			if start >= 0 && end < 0 {
				end = i
			}
		}
	}
	if start < 0 || end < 0 {
		return lines, -1, -1
	}
	return lines, start, end
}

// regionContains reports whether any redirect line in the region targets the
// domain.
func regionContains(region []string, domain string) bool {
	for _, line := range region {
		if lineIsRedirectFor(line, domain) {
			return true
		}
	}
	return false
}

// lineReferences matches both the redirect lines and the comment line of a
// domain's entry.
func lineReferences(line, domain string) bool {
	if lineIsRedirectFor(line, domain) {
		return true
	}
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	return Normalize(commentInput(trimmed)) == domain
}

func lineIsRedirectFor(line, domain string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 || strings.HasPrefix(fields[0], "#") {
		return false
	}
	target := strings.ToLower(fields[1])
	return target == domain || target == "www."+domain
}

// commentInput extracts the original input from an entry comment line of the
// form "# <category>: <input> - Blocked at <timestamp>".
func commentInput(comment string) string {
	rest := strings.TrimSpace(strings.TrimPrefix(comment, "#"))
	if i := strings.Index(rest, ": "); i >= 0 {
		rest = rest[i+2:]
	}
	if i := strings.LastIndex(rest, " - Blocked at "); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
