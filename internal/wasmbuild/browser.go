package wasmbuild

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// locateFileCall is stripped from the loader script verbatim. Emscripten
// routes the wasm binary URL through locateFile(), which turns the
// reference into an absolute path; removing the call keeps it relative so
// the url prefix applies cleanly.
const locateFileCall = "wasmBinaryFile=locateFile(wasmBinaryFile)"

// prepareBrowserFiles fingerprints the browser artifacts and rewrites the
// loader script so it references only fingerprinted, prefix-qualified
// filenames for its data and wasm payloads.
//
// The rewritten loader is fingerprinted last, over its rewritten bytes.
// After that, the original (unrewritten) wasm and loader bytes are copied
// under their own content fingerprints as a fallback artifact set, so the
// loader script content ends up published under two distinct fingerprinted
// names. Deliberate; deployments that serve from the build directory
// without a prefix still get a working set.
func prepareBrowserFiles(buildDir, urlPrefix string) error {
	dataFile := filepath.Join(buildDir, "python.data")
	wasmFile := filepath.Join(buildDir, "python.wasm")
	jsFile := filepath.Join(buildDir, "python.js")

	jsBytes, err := os.ReadFile(jsFile)
	if err != nil {
		return fmt.Errorf("cannot read loader script: %w", err)
	}
	js := string(jsBytes)

	for _, path := range []string{dataFile, wasmFile} {
		fpPath, err := fingerprintFile(path)
		if err != nil {
			return fmt.Errorf("cannot fingerprint %s: %w", path, err)
		}
		if err := copyFile(path, fpPath); err != nil {
			return fmt.Errorf("cannot copy %s: %w", path, err)
		}
		old := `"` + filepath.Base(path) + `"`
		replacement := `"` + urlPrefix + filepath.Base(fpPath) + `"`
		js = strings.ReplaceAll(js, old, replacement)
		debugf("rewrote %s -> %s\n", old, replacement)
	}

	js = strings.ReplaceAll(js, locateFileCall, "")

	rewrittenPath := fingerprintName(jsFile, fingerprintSum([]byte(js)))
	if err := os.WriteFile(rewrittenPath, []byte(js), 0o644); err != nil {
		return fmt.Errorf("cannot write rewritten loader script: %w", err)
	}
	step("Browser loader rewritten: %s", filepath.Base(rewrittenPath))

	// Fallback set: original bytes under original-content fingerprints.
	for _, path := range []string{wasmFile, jsFile} {
		fpPath, err := fingerprintFile(path)
		if err != nil {
			return fmt.Errorf("cannot fingerprint %s: %w", path, err)
		}
		if err := copyFile(path, fpPath); err != nil {
			return fmt.Errorf("cannot copy %s: %w", path, err)
		}
	}

	return nil
}
