package wasmbuild

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func withConfigFile(t *testing.T, content string) {
	t.Helper()
	old := configPath
	configPath = filepath.Join(t.TempDir(), ".python-wasm.ini")
	t.Cleanup(func() { configPath = old })
	if content != "" {
		if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestReadConfigSection(t *testing.T) {
	withConfigFile(t, `
# comment
[other]
cpython = /wrong

[wasm]
cpython = /src/cpython
emsdk = "/opt/emsdk"
url_prefix = /static/
odd = a=b=c

[upload]
bucket = artifacts
`)
	values, err := readConfigSection(configPath, "wasm")
	if err != nil {
		t.Fatalf("readConfigSection: %v", err)
	}
	tests := map[string]string{
		"cpython":    "/src/cpython",
		"emsdk":      "/opt/emsdk",
		"url_prefix": "/static/",
		"odd":        "a=b=c", // only the first '=' delimits
	}
	for key, want := range tests {
		if got := values[key]; got != want {
			t.Errorf("values[%q] = %q, want %q", key, got, want)
		}
	}
	if _, ok := values["bucket"]; ok {
		t.Error("picked up a key from a different section")
	}
}

func TestReadConfigSectionMissingFile(t *testing.T) {
	withConfigFile(t, "")
	values, err := readConfigSection(configPath, "wasm")
	if err != nil {
		t.Fatalf("missing config file should not be an error: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected empty map, got %v", values)
	}
}

func TestResolveBuildConfigCLIWinsOverFile(t *testing.T) {
	withConfigFile(t, "[wasm]\ncpython = /from/file\nemsdk = /file/emsdk\nurl_prefix = /file-prefix/\n")

	cfg, err := resolveBuildConfig([]string{"--cpython", "/from/cli", "--url-prefix", "/cli-prefix/"})
	if err != nil {
		t.Fatalf("resolveBuildConfig: %v", err)
	}
	if cfg.CPython != "/from/cli" {
		t.Errorf("CPython = %q, want CLI value", cfg.CPython)
	}
	if cfg.Emsdk != "/file/emsdk" {
		t.Errorf("Emsdk = %q, want config file fallback", cfg.Emsdk)
	}
	if cfg.URLPrefix != "/cli-prefix/" {
		t.Errorf("URLPrefix = %q, want CLI value", cfg.URLPrefix)
	}
}

func TestResolveBuildConfigMissingRequired(t *testing.T) {
	withConfigFile(t, "[wasm]\ncpython = /from/file\n")

	_, err := resolveBuildConfig(nil)
	if !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("err = %v, want ErrMissingConfig", err)
	}
	// The message must name both remediation paths.
	for _, want := range []string{"--emsdk", `"emsdk"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestResolveBuildConfigDefaults(t *testing.T) {
	withConfigFile(t, "[wasm]\ncpython = /src\nemsdk = /sdk\n")

	cfg, err := resolveBuildConfig(nil)
	if err != nil {
		t.Fatalf("resolveBuildConfig: %v", err)
	}
	if cfg.URLPrefix != "" {
		t.Errorf("URLPrefix = %q, want empty default", cfg.URLPrefix)
	}
	if cfg.ArchiveFormat != "zip" {
		t.Errorf("ArchiveFormat = %q, want zip default", cfg.ArchiveFormat)
	}
	if cfg.PythonVersion != "" || cfg.SetupEmsdkVersion != "" {
		t.Error("optional versions should stay empty with no fallback")
	}
}

func TestResolveBuildConfigBadFormat(t *testing.T) {
	withConfigFile(t, "[wasm]\ncpython = /src\nemsdk = /sdk\n")
	if _, err := resolveBuildConfig([]string{"--format", "7z"}); err == nil {
		t.Fatal("expected error for unsupported archive format")
	}
}

func TestResolveSourceRootPositionalArgs(t *testing.T) {
	withConfigFile(t, "[wasm]\ncpython = /src\nemsdk = /sdk\n")

	root, rest, err := resolveSourceRoot([]string{"native"})
	if err != nil {
		t.Fatalf("resolveSourceRoot: %v", err)
	}
	if root != "/src" {
		t.Errorf("root = %q, want /src", root)
	}
	if len(rest) != 1 || rest[0] != "native" {
		t.Errorf("rest = %v, want [native]", rest)
	}
}
