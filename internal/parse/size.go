package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var sizeRe = regexp.MustCompile(`^(\d+)\s*gb$`)

// SizeID extracts the data size in MB from a catalog option id such as
// "5gb" or "100GB". Ids that do not carry a size return an error.
func SizeID(id string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(id))
	matches := sizeRe.FindStringSubmatch(s)
	if len(matches) != 2 {
		return 0, fmt.Errorf("option id %q does not encode a size", id)
	}
	gb, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("option id %q has an invalid size: %w", id, err)
	}
	if gb <= 0 {
		return 0, fmt.Errorf("option id %q has a non-positive size", id)
	}
	return gb * 1024, nil
}

// SizeLabel renders an MB amount the way catalog names are written.
func SizeLabel(mb int64) string {
	if mb >= 1024 && mb%1024 == 0 {
		return fmt.Sprintf("%dGB", mb/1024)
	}
	return fmt.Sprintf("%dMB", mb)
}
