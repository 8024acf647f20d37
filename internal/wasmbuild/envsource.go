package wasmbuild

import (
	"fmt"
	"strings"
)

// sourceEmsdkEnv emulates the shell "source" command: it runs the emsdk
// environment script in a subshell, prints the resulting environment and
// parses it into an overlay map. The caller threads the overlay through
// every later command instead of mutating the process environment.
func sourceEmsdkEnv(runner commandRunner, emsdkDir string) (map[string]string, error) {
	res, err := runner.Run(Command{
		Args:    []string{"sh", "-c", ". ./emsdk_env.sh && env"},
		Dir:     emsdkDir,
		Capture: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to source emsdk environment in %s: %w", emsdkDir, err)
	}
	return parseEnvOutput(res.Stdout), nil
}

// parseEnvOutput splits `env` output into key/value pairs. Only the first
// '=' delimits; values like PS1=x=y stay whole. Lines without '=' are
// dropped (env -0 would be cleaner but emsdk_env.sh output is tame).
func parseEnvOutput(out string) map[string]string {
	env := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		env[parts[0]] = parts[1]
	}
	return env
}
