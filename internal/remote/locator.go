package remote

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/merchantops/reconcile/pkg/log"
)

// dateLayout is the business-date slot used in filename patterns.
const dateLayout = "20060102"

// Locator discovers report files by generating the expected filename for
// every configured naming convention and calendar date, then matching the
// candidates case-sensitively against the remote directory listing.
type Locator struct {
	client   Client
	patterns []string
	log      log.LoggerService
}

func NewLocator(client Client, patterns []string, logger log.LoggerService) *Locator {
	return &Locator{
		client:   client,
		patterns: patterns,
		log:      logger.Named("locator"),
	}
}

// Find returns one descriptor per business date in [from, to] for which a
// matching file exists. Patterns are tried in configuration order; the first
// match wins and ends the scan for that date. An empty result is a normal
// outcome, not an error.
func (l *Locator) Find(ctx context.Context, dir string, from, to time.Time) ([]Descriptor, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("end date %s is before start date %s",
			to.Format("2006-01-02"), from.Format("2006-01-02"))
	}

	entries, err := l.client.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote directory: %w", err)
	}

	byName := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}

	var found []Descriptor
	for date := truncateDay(from); !date.After(truncateDay(to)); date = date.AddDate(0, 0, 1) {
		token := date.Format(dateLayout)

		for _, pattern := range l.patterns {
			candidate := fmt.Sprintf(pattern, token)
			entry, ok := byName[candidate]
			if !ok {
				continue
			}

			l.log.Debug("Matched %s against pattern %q for %s", candidate, pattern, date.Format("2006-01-02"))
			found = append(found, Descriptor{
				Name:         entry.Name,
				RemotePath:   path.Join(dir, entry.Name),
				Size:         entry.Size,
				ModTime:      entry.ModTime,
				BusinessDate: date,
			})
			break
		}
	}

	l.log.Info("Found %d report file(s) in %s", len(found), dir)
	return found, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
