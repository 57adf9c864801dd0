package events

import (
	"strconv"
	"strings"
)

func normalizeDenom(denom string) string {
	trimmed := strings.TrimSpace(denom)
	if trimmed == "" {
		return ""
	}
	return strings.ToLower(trimmed)
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
