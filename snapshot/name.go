package snapshot

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	archiveExt   = ".zip"
	hexDigits    = 8
	manifestName = "manifest.json"
)

// FileName returns the archive name for a generation.
func FileName(gen uint64) string {
	return fmt.Sprintf("%08x%s", gen, archiveExt)
}

// ParseFileName extracts the generation from an archive name. Only names of
// exactly eight lowercase hex digits plus ".zip" are accepted.
func ParseFileName(name string) (uint64, bool) {
	hex, ok := strings.CutSuffix(name, archiveExt)
	if !ok || len(hex) != hexDigits {
		return 0, false
	}
	for _, r := range hex {
		if !('0' <= r && r <= '9' || 'a' <= r && r <= 'f') {
			return 0, false
		}
	}
	gen, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}
