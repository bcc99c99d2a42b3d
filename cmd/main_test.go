package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() { cfgFile = "" })
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCheckConfig_Keys(t *testing.T) {
	path := writeConfig(t, "livekit: {url: ws://lk:7880, apiKey: k, apiSecret: s, room: demo}\n")
	out, err := execute(t, "check-config", "--config", path)
	if err != nil {
		t.Fatalf("check-config: %v", err)
	}
	if !strings.Contains(out, "room=demo identity=recorder-session") {
		t.Fatalf("output = %q", out)
	}
}

func TestCheckConfig_Token(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "recorder-7",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"video": map[string]any{"room": "standup"},
	}).SignedString([]byte("s"))
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, "livekit: {url: ws://lk:7880, token: "+tok+"}\n")

	out, err := execute(t, "check-config", "--config", path)
	if err != nil {
		t.Fatalf("check-config: %v", err)
	}
	if !strings.Contains(out, "room=standup identity=recorder-7") || !strings.Contains(out, "token expires") {
		t.Fatalf("output = %q", out)
	}
}

func TestCheckConfig_Invalid(t *testing.T) {
	path := writeConfig(t, "livekit: {url: ws://lk:7880}\n")
	if _, err := execute(t, "check-config", "--config", path); err == nil {
		t.Fatalf("missing credentials must fail")
	}
}
