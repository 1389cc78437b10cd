package core

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/JonMunkholm/partregistry/internal/logging"
)

// Reservation limits.
const (
	MaxReservePrefixLen = 20
	MaxReserveCount     = 1000
)

// ReserveIDs reserves count consecutive identifiers under prefix and returns
// them formatted as PREFIX_000123. Reservations for the same prefix never
// overlap, even across processes sharing the database.
//
// A reservation that times out after the store committed is not returned to
// the caller; its range is skipped, never reissued.
func (s *Service) ReserveIDs(ctx context.Context, prefix string, count int) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	if err := validateReservePrefix(prefix); err != nil {
		return nil, err
	}
	if err := checkRange("count", count, 1, MaxReserveCount); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ReserveTimeout)
	defer cancel()

	start, err := s.store.ReserveRange(ctx, prefix, count)
	if err != nil {
		return nil, fmt.Errorf("reserve %d ids for %s: %w", count, prefix, err)
	}

	ids := make([]string, count)
	for i := range ids {
		ids[i] = FormatID(prefix, start+int64(i), s.opts.PadWidth)
	}

	logging.FromContext(ctx).Info("ids reserved",
		"prefix", prefix,
		"count", count,
		"first", ids[0],
		"last", ids[count-1],
	)
	return ids, nil
}

// FormatID renders n under prefix with at least width digits.
func FormatID(prefix string, n int64, width int) string {
	return fmt.Sprintf("%s_%0*d", prefix, width, n)
}

func validateReservePrefix(prefix string) error {
	if err := checkLen("prefix", prefix, 1, MaxReservePrefixLen); err != nil {
		return err
	}
	for _, r := range prefix {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return invalid("prefix", prefix, "must contain only letters and digits")
		}
	}
	return nil
}

// ResetCounters deletes every prefix counter so numbering restarts at 1.
// It returns ErrResetDisabled unless the service was built with AllowReset.
func (s *Service) ResetCounters(ctx context.Context) (int64, error) {
	if !s.opts.AllowReset {
		return 0, ErrResetDisabled
	}
	n, err := s.store.ResetCounters(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset counters: %w", err)
	}
	logging.FromContext(ctx).Warn("id counters reset", "deleted", n)
	return n, nil
}
