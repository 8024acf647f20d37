package wasmbuild

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// configFileName lives in the user's home directory and provides fallback
// values for options that were not given on the command line.
const configFileName = ".python-wasm.ini"

// configPath is resolved once at startup; variable so tests can point it
// at a scratch file.
var configPath = defaultConfigPath()

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return configFileName
	}
	return filepath.Join(home, configFileName)
}

// ErrMissingConfig is wrapped by resolution errors for required options.
var ErrMissingConfig = errors.New("missing required configuration")

// BuildConfig holds everything a single pipeline invocation needs.
// Immutable after resolution.
type BuildConfig struct {
	CPython           string // interpreter source tree
	Emsdk             string // emscripten SDK installation
	URLPrefix         string // prepended to fingerprinted browser filenames
	PythonVersion     string // optional git ref to check out before building
	SetupEmsdkVersion string // optional; triggers emsdk install+activate
	ArchiveFormat     string // runtime archive container: zip, tar.gz, tar.xz, tar.zst
}

// readConfigSection parses one [section] of the ini-style config file into
// a flat key/value map. A missing file is not an error; the caller just
// gets an empty map. Values keep any '=' past the first one intact.
func readConfigSection(path, section string) (map[string]string, error) {
	values := make(map[string]string)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, err
	}
	defer file.Close()

	inSection := false
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inSection = strings.TrimSpace(line[1:len(line)-1]) == section
			continue
		}
		if !inSection {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		val = strings.Trim(val, `"'`)
		values[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

// resolveBuildConfig merges command-line flags over the [wasm] section of
// the config file. cpython and emsdk are required; url_prefix defaults to
// the empty string; the rest are optional.
func resolveBuildConfig(args []string) (*BuildConfig, error) {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	cpython := fs.String("cpython", "", "path to the CPython source tree")
	emsdk := fs.String("emsdk", "", "path to the emsdk installation")
	urlPrefix := fs.String("url-prefix", "", "URL prefix for fingerprinted browser files")
	pythonVersion := fs.String("python-version", "", "git tag for a specific CPython version")
	setupEmsdk := fs.String("setup-emsdk-version", "", "install and activate the given emsdk version")
	format := fs.String("format", "", "runtime archive format: zip, tar.gz, tar.xz, tar.zst")
	debug := fs.Bool("debug", false, "verbose diagnostics")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *debug || os.Getenv("WASMBUILD_DEBUG") == "1" {
		Debug = true
	}

	fileCfg, err := readConfigSection(configPath, "wasm")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", configPath, err)
	}

	cfg := &BuildConfig{
		CPython:           *cpython,
		Emsdk:             *emsdk,
		URLPrefix:         *urlPrefix,
		PythonVersion:     *pythonVersion,
		SetupEmsdkVersion: *setupEmsdk,
		ArchiveFormat:     *format,
	}

	required := []struct {
		value *string
		flag  string
		key   string
	}{
		{&cfg.CPython, "--cpython", "cpython"},
		{&cfg.Emsdk, "--emsdk", "emsdk"},
	}
	for _, opt := range required {
		if *opt.value != "" {
			continue
		}
		if v, ok := fileCfg[opt.key]; ok && v != "" {
			*opt.value = v
			continue
		}
		return nil, fmt.Errorf("%w: must supply %s or the %q option in the [wasm] section of %s",
			ErrMissingConfig, opt.flag, opt.key, configPath)
	}

	if cfg.URLPrefix == "" {
		cfg.URLPrefix = fileCfg["url_prefix"]
	}
	if cfg.ArchiveFormat == "" {
		if v := fileCfg["archive_format"]; v != "" {
			cfg.ArchiveFormat = v
		} else {
			cfg.ArchiveFormat = "zip"
		}
	}
	switch cfg.ArchiveFormat {
	case "zip", "tar.gz", "tar.xz", "tar.zst":
	default:
		return nil, fmt.Errorf("unsupported archive format %q (want zip, tar.gz, tar.xz or tar.zst)", cfg.ArchiveFormat)
	}

	return cfg, nil
}

// resolveSourceRoot is the lightweight resolution used by commands that
// only need to locate the build tree (log, status). Returns the source
// root and the remaining positional arguments.
func resolveSourceRoot(args []string) (string, []string, error) {
	fs := flag.NewFlagSet("source-root", flag.ContinueOnError)
	cpython := fs.String("cpython", "", "path to the CPython source tree")
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	if *cpython != "" {
		return *cpython, fs.Args(), nil
	}
	fileCfg, err := readConfigSection(configPath, "wasm")
	if err != nil {
		return "", nil, fmt.Errorf("failed to read %s: %w", configPath, err)
	}
	if v := fileCfg["cpython"]; v != "" {
		return v, fs.Args(), nil
	}
	return "", nil, fmt.Errorf("%w: must supply --cpython or the \"cpython\" option in the [wasm] section of %s",
		ErrMissingConfig, configPath)
}
