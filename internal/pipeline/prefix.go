package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/JonMunkholm/partregistry/internal/matching"
)

// ErrInvalidPrefix is returned for designer prefixes NormalizePrefix rejects.
var ErrInvalidPrefix = errors.New("invalid prefix")

var prefixPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}$`)

// NormalizePrefix upper-cases a designer prefix and checks its shape: a
// letter followed by up to nine letters or digits (PS, MD, STD, M2026).
func NormalizePrefix(prefix string) (string, error) {
	p := strings.ToUpper(strings.TrimSpace(prefix))
	if p == "" {
		return "", fmt.Errorf("%w: prefix cannot be empty", ErrInvalidPrefix)
	}
	if !prefixPattern.MatchString(p) {
		return "", fmt.Errorf("%w: %q must start with a letter and contain only letters and digits (max 10)", ErrInvalidPrefix, prefix)
	}
	return p, nil
}

// FormatPartName returns the final part name. With addPrefix the name gets
// "<PREFIX>_" in front unless it already starts with exactly that prefix.
func FormatPartName(name, prefix string, addPrefix bool) (string, error) {
	n := matching.Normalize(name)
	if !addPrefix {
		return n, nil
	}

	p, err := NormalizePrefix(prefix)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(n, p+matching.PrefixSeparator) {
		return n, nil
	}
	return p + matching.PrefixSeparator + n, nil
}

// ApplyPrefix renames every non-standard row to carry prefix and returns how
// many names changed. Standard rows keep their names.
func ApplyPrefix(rows []Row, prefix string) (int, error) {
	p, err := NormalizePrefix(prefix)
	if err != nil {
		return 0, err
	}

	changed := 0
	for i := range rows {
		if rows[i].IsStandard {
			continue
		}
		name, err := FormatPartName(rows[i].Name, p, true)
		if err != nil {
			return changed, err
		}
		if name != rows[i].Name {
			rows[i].Rename(name)
			changed++
		}
	}
	return changed, nil
}
