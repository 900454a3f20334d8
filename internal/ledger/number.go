package ledger

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Transaction-number prefixes for the close workflows.
const (
	DailyClosePrefix = "FDC"
	ShiftClosePrefix = "FSC"
)

var correctionSuffix = regexp.MustCompile(`-C(\d+)$`)

// CloseNumber builds the deterministic number for an original close entry,
// e.g. FDC-20240115.
func CloseNumber(prefix string, date time.Time) string {
	return fmt.Sprintf("%s-%s", prefix, date.Format("20060102"))
}

// ShiftCloseNumber appends the shift tag, e.g. FSC-20240115-DAY.
func ShiftCloseNumber(date time.Time, shift string) string {
	return fmt.Sprintf("%s-%s", CloseNumber(ShiftClosePrefix, date), shift)
}

// ReversalNumber derives the number of a reversal entry from its original.
func ReversalNumber(original string) string {
	return original + "-REV"
}

// NextCorrectionNumber computes one past the highest existing -C{n} suffix
// for a base number. With no existing corrections it yields base-C1.
func NextCorrectionNumber(base string, existing []string) string {
	max := 0
	for _, number := range existing {
		m := correctionSuffix.FindStringSubmatch(number)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return fmt.Sprintf("%s-C%d", base, max+1)
}
