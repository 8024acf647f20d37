package wasmbuild

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Stage names one phase of the pipeline. Each build stage owns exactly one
// output directory; that directory's existence is the completion signal
// used for skip decisions on re-entry.
type Stage string

const (
	StageToolchain Stage = "toolchain"
	StageNative    Stage = "native"
	StageBrowser   Stage = "emscripten-browser"
	StageNode      Stage = "emscripten-node"
)

// buildStages in execution order; the toolchain stage has no output
// directory of its own and always runs.
var buildStages = []Stage{StageNative, StageBrowser, StageNode}

const configSiteWasm32 = "../../Tools/wasm/config.site-wasm32-emscripten"

// Orchestrator sequences the build stages strictly in order, with no
// retries: the first failure aborts the whole run. Environment changes are
// threaded through toolchainEnv rather than mutated into the process.
type Orchestrator struct {
	cfg    *BuildConfig
	runner commandRunner

	buildRoot    string
	toolchainEnv map[string]string // overlay from sourcing emsdk_env.sh
	status       *stageStatus
	lock         *os.File
}

func NewOrchestrator(cfg *BuildConfig, runner commandRunner) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		runner:    runner,
		buildRoot: filepath.Join(cfg.CPython, "builddir"),
	}
}

func (o *Orchestrator) stageDir(stage Stage) string {
	switch stage {
	case StageNative:
		return filepath.Join(o.buildRoot, "build")
	case StageBrowser:
		return filepath.Join(o.buildRoot, "emscripten-browser")
	case StageNode:
		return filepath.Join(o.buildRoot, "emscripten-node")
	}
	return ""
}

// StageDirs returns the three build output directories checked for reuse
// before orchestration begins.
func (o *Orchestrator) StageDirs() map[Stage]string {
	dirs := make(map[Stage]string, len(buildStages))
	for _, stage := range buildStages {
		dirs[stage] = o.stageDir(stage)
	}
	return dirs
}

// Run drives the pipeline to completion. Post-processing always runs, even
// when every build stage was skipped, so re-invocations regenerate the
// packaged artifacts without rebuilding.
func (o *Orchestrator) Run() error {
	if err := os.MkdirAll(o.buildRoot, 0o755); err != nil {
		return fmt.Errorf("cannot create build root: %w", err)
	}
	if err := o.acquireLock(); err != nil {
		return err
	}
	defer o.releaseLock()

	o.status = loadStageStatus(filepath.Join(o.buildRoot, "stage-status"))

	if err := o.runStage(StageToolchain, o.setupToolchain); err != nil {
		return err
	}
	for _, stage := range buildStages {
		dir := o.stageDir(stage)
		if _, err := os.Stat(dir); err == nil {
			step("Skipping %s build, %s exists", stage, dir)
			o.status.set(stage, stateDone)
			continue
		}
		if err := o.runStage(stage, func(log io.Writer) error {
			return o.buildStage(stage, dir, log)
		}); err != nil {
			return err
		}
	}

	return o.postProcess()
}

// runStage wraps a stage body with its log file and status bookkeeping.
func (o *Orchestrator) runStage(stage Stage, body func(log io.Writer) error) error {
	o.status.set(stage, statePending)

	logsDir := filepath.Join(o.buildRoot, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("cannot create log directory: %w", err)
	}
	logFile, err := os.Create(filepath.Join(logsDir, string(stage)+".log"))
	if err != nil {
		return fmt.Errorf("cannot create stage log: %w", err)
	}
	defer logFile.Close()

	if err := body(io.MultiWriter(os.Stdout, logFile)); err != nil {
		o.status.set(stage, stateFailed)
		return err
	}
	o.status.set(stage, stateDone)
	return nil
}

// setupToolchain optionally installs and activates a requested emsdk
// version, sources the toolchain environment, verifies embuilder is usable
// and builds the emscripten ports the interpreter links against. This all
// happens regardless of which build stages get skipped later.
func (o *Orchestrator) setupToolchain(log io.Writer) error {
	if v := o.cfg.SetupEmsdkVersion; v != "" {
		step("Installing emsdk %s", v)
		for _, action := range []string{"install", "activate"} {
			_, err := o.runner.Run(Command{
				Args:   []string{"./emsdk", action, v},
				Dir:    o.cfg.Emsdk,
				Output: log,
			})
			if err != nil {
				return err
			}
		}
	}

	step("Sourcing emsdk environment")
	env, err := sourceEmsdkEnv(o.runner, o.cfg.Emsdk)
	if err != nil {
		return err
	}
	o.toolchainEnv = env

	// Sanity check that the sourced toolchain is actually usable before
	// spending an hour in configure.
	if _, err := o.runner.Run(Command{
		Args:    []string{"embuilder", "--help"},
		Dir:     o.cfg.CPython,
		Env:     o.toolchainEnv,
		Capture: true,
	}); err != nil {
		return fmt.Errorf("embuilder is not usable after sourcing emsdk: %w", err)
	}

	step("Building emscripten ports: zlib bzip2")
	_, err = o.runner.Run(Command{
		Args:   []string{"embuilder", "build", "zlib", "bzip2"},
		Dir:    o.cfg.CPython,
		Env:    o.toolchainEnv,
		Output: log,
	})
	return err
}

func (o *Orchestrator) buildStage(stage Stage, dir string, log io.Writer) error {
	switch stage {
	case StageNative:
		return o.buildNative(dir, log)
	case StageBrowser:
		return o.buildCross(dir, "browser", log)
	case StageNode:
		return o.buildCross(dir, "node", log)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

func (o *Orchestrator) buildNative(dir string, log io.Writer) error {
	if v := o.cfg.PythonVersion; v != "" {
		step("Checking out CPython %s", v)
		if _, err := o.runner.Run(Command{
			Args:   []string{"git", "checkout", v},
			Dir:    o.cfg.CPython,
			Env:    o.toolchainEnv,
			Output: log,
		}); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	step("Building native CPython in %s", dir)
	for _, args := range [][]string{
		{"../../configure", "-C"},
		{"make", "-j" + strconv.Itoa(runtime.NumCPU())},
	} {
		if _, err := o.runner.Run(Command{
			Args:   args,
			Dir:    dir,
			Env:    o.toolchainEnv,
			Output: log,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) buildCross(dir, target string, log io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}

	// The build triplet used to come from $(../../config.guess) inside a
	// shell string; run it as its own captured command instead.
	res, err := o.runner.Run(Command{
		Args:    []string{"../../config.guess"},
		Dir:     dir,
		Env:     o.toolchainEnv,
		Capture: true,
	})
	if err != nil {
		return fmt.Errorf("config.guess failed: %w", err)
	}
	buildTriplet := strings.TrimSpace(res.Stdout)

	env := make(map[string]string, len(o.toolchainEnv)+1)
	for k, v := range o.toolchainEnv {
		env[k] = v
	}
	env["CONFIG_SITE"] = configSiteWasm32

	buildPython := filepath.Join(o.buildRoot, "build", "python")
	step("Cross-building CPython for emscripten %s in %s", target, dir)
	for _, args := range [][]string{
		{
			"emconfigure", "../../configure", "-C",
			"--host=wasm32-unknown-emscripten",
			"--build=" + buildTriplet,
			"--with-emscripten-target=" + target,
			"--with-build-python=" + buildPython,
		},
		{"emmake", "make", "-j" + strconv.Itoa(runtime.NumCPU())},
	} {
		if _, err := o.runner.Run(Command{
			Args:   args,
			Dir:    dir,
			Env:    env,
			Output: log,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) postProcess() error {
	step("Preparing browser deployment files")
	if err := prepareBrowserFiles(o.stageDir(StageBrowser), o.cfg.URLPrefix); err != nil {
		return err
	}
	step("Packaging node runtime files")
	_, err := packageRuntimeFiles(o.cfg.CPython, o.stageDir(StageNode), o.cfg.ArchiveFormat)
	return err
}

// acquireLock takes a non-blocking advisory flock on the build tree. Two
// concurrent invocations against the same tree would race on the output
// directories; the second one fails fast instead.
func (o *Orchestrator) acquireLock() error {
	f, err := os.OpenFile(filepath.Join(o.buildRoot, ".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("cannot open build lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("another build is already running against %s: %w", o.buildRoot, err)
	}
	o.lock = f
	return nil
}

func (o *Orchestrator) releaseLock() {
	if o.lock != nil {
		unix.Flock(int(o.lock.Fd()), unix.LOCK_UN)
		o.lock.Close()
		o.lock = nil
	}
}
