package protocol

import (
	"fmt"
	"strings"
)

// Hex formats b as space separated upper-case byte pairs ("0C 16 D2"), the
// form used for advertisement and notification dumps in the logs.
func Hex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", c)
	}
	return sb.String()
}
