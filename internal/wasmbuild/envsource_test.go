package wasmbuild

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseEnvOutput(t *testing.T) {
	out := "PATH=/opt/emsdk:/usr/bin\nEMSDK=/opt/emsdk\nPS1=\\u=\\h $ \nmalformed line\n\n"
	env := parseEnvOutput(out)

	tests := map[string]string{
		"PATH":  "/opt/emsdk:/usr/bin",
		"EMSDK": "/opt/emsdk",
		"PS1":   "\\u=\\h $ ", // only the first '=' splits
	}
	for key, want := range tests {
		if got := env[key]; got != want {
			t.Errorf("env[%q] = %q, want %q", key, got, want)
		}
	}
	if _, ok := env["malformed line"]; ok {
		t.Error("line without '=' should be dropped")
	}
	if len(env) != 3 {
		t.Errorf("parsed %d entries, want 3: %v", len(env), env)
	}
}

func TestSourceEmsdkEnv(t *testing.T) {
	dir := t.TempDir()
	script := "export EMSDK=" + dir + "\nexport EM_FLAGS='a=b'\n"
	if err := os.WriteFile(filepath.Join(dir, "emsdk_env.sh"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}

	env, err := sourceEmsdkEnv(NewExecutor(context.Background()), dir)
	if err != nil {
		t.Fatalf("sourceEmsdkEnv: %v", err)
	}
	if env["EMSDK"] != dir {
		t.Errorf("EMSDK = %q, want %q", env["EMSDK"], dir)
	}
	if env["EM_FLAGS"] != "a=b" {
		t.Errorf("EM_FLAGS = %q, want a=b", env["EM_FLAGS"])
	}
	if env["PATH"] == "" {
		t.Error("expected the subshell's PATH in the snapshot")
	}
}

func TestSourceEmsdkEnvMissingScript(t *testing.T) {
	if _, err := sourceEmsdkEnv(NewExecutor(context.Background()), t.TempDir()); err == nil {
		t.Fatal("expected error when emsdk_env.sh is absent")
	}
}
