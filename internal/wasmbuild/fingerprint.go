package wasmbuild

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"lukechampine.com/blake3"
)

// fingerprintLen is the number of hex digits embedded into filenames.
const fingerprintLen = 12

// fingerprintSum returns the short content hash for data. Same bytes, same
// suffix; that is the whole contract.
func fingerprintSum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// fingerprintName inserts sum as an extra dot-separated segment before the
// extension: python.wasm -> python.<sum>.wasm.
func fingerprintName(path, sum string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + sum + ext
}

// fingerprintFile derives the fingerprinted path for the file's current
// contents.
func fingerprintFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return fingerprintName(path, fingerprintSum(data)), nil
}
