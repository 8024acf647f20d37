package wasmbuild

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

const verifyHarnessName = "wasmbuild-verify.html"

// harnessTemplate loads the rewritten loader script and reports runtime
// initialization (or a script error) through window globals the verifier
// can poll.
const harnessTemplate = `<!doctype html>
<meta charset="utf-8">
<title>wasmbuild verify</title>
<script>
var Module = {
  onRuntimeInitialized: function () { window.__wasmbuildReady = true; },
  onAbort: function () { window.__wasmbuildFailed = true; },
};
window.addEventListener("error", function () { window.__wasmbuildFailed = true; });
</script>
<script src="%s"></script>
`

// pickRewrittenLoader finds the prefix-rewritten loader among the
// fingerprinted scripts in the build directory. The fallback copy still
// carries the raw payload references; the rewritten one does not.
func pickRewrittenLoader(buildDir string) (string, error) {
	entries, err := os.ReadDir(buildDir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !fingerprintedNameRe.MatchString(name) || !strings.HasSuffix(name, ".js") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(buildDir, name))
		if err != nil {
			return "", err
		}
		js := string(data)
		if !strings.Contains(js, `"python.wasm"`) && !strings.Contains(js, locateFileCall) {
			return name, nil
		}
	}
	return "", fmt.Errorf("no rewritten loader script in %s; run a build first", buildDir)
}

// verifyBrowserBuild serves the browser build directory locally, loads the
// rewritten loader in headless Chrome and waits for the interpreter
// runtime to come up. Only path-style url prefixes can be replicated by
// the local server.
func verifyBrowserBuild(ctx context.Context, buildDir, urlPrefix string) error {
	if strings.Contains(urlPrefix, "://") {
		return fmt.Errorf("cannot verify an absolute url prefix (%q) against a local server", urlPrefix)
	}

	loader, err := pickRewrittenLoader(buildDir)
	if err != nil {
		return err
	}

	harness := fmt.Sprintf(harnessTemplate, urlPrefix+loader)
	harnessPath := filepath.Join(buildDir, verifyHarnessName)
	if err := os.WriteFile(harnessPath, []byte(harness), 0o644); err != nil {
		return fmt.Errorf("cannot write verify harness: %w", err)
	}
	defer os.Remove(harnessPath)

	mux := http.NewServeMux()
	fileServer := http.FileServer(http.Dir(buildDir))
	mux.Handle("/", fileServer)
	if p := strings.Trim(urlPrefix, "/"); p != "" {
		mux.Handle("/"+p+"/", http.StripPrefix("/"+p+"/", fileServer))
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("cannot listen for verify server: %w", err)
	}
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Close()

	pageURL := fmt.Sprintf("http://%s/%s", ln.Addr(), verifyHarnessName)
	step("Loading %s in headless Chrome", pageURL)

	cctx, cancel := chromedp.NewContext(ctx)
	defer cancel()
	cctx, cancelTimeout := context.WithTimeout(cctx, 2*time.Minute)
	defer cancelTimeout()

	var settled bool
	if err := chromedp.Run(cctx,
		chromedp.Navigate(pageURL),
		chromedp.Poll("window.__wasmbuildReady === true || window.__wasmbuildFailed === true", &settled),
	); err != nil {
		return fmt.Errorf("browser verification did not settle: %w", err)
	}

	var ready bool
	if err := chromedp.Run(cctx,
		chromedp.Evaluate("window.__wasmbuildReady === true", &ready),
	); err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("loader %s failed to initialize the interpreter runtime", loader)
	}
	step("Browser build verified: %s initialized the runtime", loader)
	return nil
}

// handleVerifyCommand resolves the build tree and runs the smoke test.
func handleVerifyCommand(ctx context.Context, args []string) error {
	cfg, err := resolveBuildConfig(args)
	if err != nil {
		return err
	}
	browserDir := filepath.Join(cfg.CPython, "builddir", "emscripten-browser")
	return verifyBrowserBuild(ctx, browserDir, cfg.URLPrefix)
}
