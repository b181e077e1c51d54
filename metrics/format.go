package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// Formatting defaults.
const (
	DefaultPrefix    = "rtap"
	DefaultPrecision = 4
)

// Format renders the snapshot summary as one "<prefix>.<name>: <value>" line
// per entry, sorted by name. Averages and maxima use precision decimals;
// counts are printed as integers. A negative precision selects
// DefaultPrecision.
func Format(s Snapshot, prefix string, precision int) string {
	if precision < 0 {
		precision = DefaultPrecision
	}
	summary := s.Summary()
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		value := summary[name]
		if strings.HasSuffix(name, ".avg_s") || strings.HasSuffix(name, ".max_s") {
			lines = append(lines, fmt.Sprintf("%s.%s: %.*f", prefix, name, precision, value))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s.%s: %.0f", prefix, name, value))
	}
	return strings.Join(lines, "\n")
}

// String formats the snapshot with the default prefix and precision.
func (s Snapshot) String() string {
	return Format(s, DefaultPrefix, DefaultPrecision)
}
