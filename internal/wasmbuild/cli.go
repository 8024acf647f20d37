package wasmbuild

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"
)

func printHelp() {
	colSuccess.Println("Usage: wasmbuild <command> [arguments]")
	colSuccess.Println("Run 'wasmbuild <command> -h' for command options")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"build, b", "[options]", "Run the full build pipeline and package artifacts"},
		{"status", "", "Show per-stage build state"},
		{"log", "[stage]", "View stage build logs"},
		{"verify", "[options]", "Smoke-test the browser build in headless Chrome"},
		{"upload", "[options]", "Upload deployable artifacts to the configured bucket"},
		{"version, --version", "", "Version information"},
	}

	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		usage := "  " + c.Cmd
		if c.Args != "" {
			usage += " " + c.Args
		}
		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}
		pad := columnWidth - len(usage)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))
		color.Info.Println(c.Desc)
	}
	fmt.Println()
}

// Main is the CLI entrypoint for cmd/wasmbuild.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigs:
			colArrow.Print("\n-> ")
			color.Danger.Printf("Received %v. Cancelling build gracefully\n", sig)
			cancel()
			select {
			case <-sigs:
				os.Exit(130)
			case <-time.After(5 * time.Second):
				color.Danger.Println("Graceful shutdown timeout. Exiting.")
				os.Exit(130)
			}
		case <-ctx.Done():
		}
	}()

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	var err error
	switch os.Args[1] {
	case "build", "b":
		err = handleBuildCommand(ctx, os.Args[2:])
	case "status":
		err = handleStatusCommand(os.Args[2:])
	case "log":
		err = handleLogCommand(os.Args[2:])
	case "verify":
		err = handleVerifyCommand(ctx, os.Args[2:])
	case "upload":
		err = handleUploadCommand(ctx, os.Args[2:])
	case "version", "--version":
		fmt.Printf("wasmbuild %s (%s)\n", version, buildDate)
	case "help", "-h", "--help":
		printHelp()
	default:
		colError.Printf("Unknown command: %s\n\n", os.Args[1])
		printHelp()
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, ErrUserDeclined) {
			fmt.Println("Exiting.")
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func handleBuildCommand(ctx context.Context, args []string) error {
	cfg, err := resolveBuildConfig(args)
	if err != nil {
		return err
	}

	orch := NewOrchestrator(cfg, NewExecutor(ctx))

	// All three output directories are checked up front; a declined reuse
	// aborts before any stage touches the tree.
	dirs := orch.StageDirs()
	checks := []struct {
		stage Stage
		label string
	}{
		{StageNative, "CPython build directory"},
		{StageBrowser, "WASM browser build"},
		{StageNode, "WASM node build"},
	}
	for _, c := range checks {
		if err := checkBuildDir(dirs[c.stage], c.label); err != nil {
			return err
		}
	}

	return orch.Run()
}

func handleStatusCommand(args []string) error {
	root, _, err := resolveSourceRoot(args)
	if err != nil {
		return err
	}
	buildRoot := filepath.Join(root, "builddir")
	status := loadStageStatus(filepath.Join(buildRoot, "stage-status"))

	orch := NewOrchestrator(&BuildConfig{CPython: root}, nil)
	fmt.Printf("%-22s %-10s %s\n", "STAGE", "RECORD", "OUTPUT DIRECTORY")
	for _, stage := range append([]Stage{StageToolchain}, buildStages...) {
		record := status.get(stage)
		if record == "" {
			record = "-"
		}
		dir := orch.stageDir(stage)
		dirNote := ""
		if dir != "" {
			dirNote = dir + " (missing)"
			if _, err := os.Stat(dir); err == nil {
				dirNote = dir
			}
		}
		fmt.Printf("%-22s %-10s %s\n", stage, record, dirNote)
	}
	return nil
}

func handleLogCommand(args []string) error {
	root, rest, err := resolveSourceRoot(args)
	if err != nil {
		return err
	}
	logsDir := filepath.Join(root, "builddir", "logs")

	if len(rest) == 0 {
		matches, _ := filepath.Glob(filepath.Join(logsDir, "*.log"))
		if len(matches) == 0 {
			colWarn.Println("No stage logs yet. Run 'wasmbuild build' first.")
			return nil
		}
		sort.Strings(matches)
		colInfo.Println("Available stage logs:")
		for _, m := range matches {
			fmt.Printf("  %s\n", strings.TrimSuffix(filepath.Base(m), ".log"))
		}
		return nil
	}

	stage := rest[0]
	data, err := os.ReadFile(filepath.Join(logsDir, stage+".log"))
	if err != nil {
		return fmt.Errorf("no log for stage %q: %w", stage, err)
	}
	return runPager(stage+" build log", strings.Split(string(data), "\n"))
}
