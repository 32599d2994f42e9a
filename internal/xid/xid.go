package xid

import (
	"strings"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Short returns n upper-case hex characters from a random uuid.
func Short(n int) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n <= 0 || n > len(raw) {
		n = len(raw)
	}
	return strings.ToUpper(raw[:n])
}
