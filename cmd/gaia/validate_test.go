package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Aeonia-ai/gaia-sub004/internal/upstream"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantValid  bool
		wantFields []string
		wantText   string
	}{
		{
			name: "valid",
			content: `
services:
  chat: "http://chat:8000"
routes:
  - prefix: "/api/v1/chat"
    service: chat
`,
			wantValid: true,
			wantText:  "✓ Configuration valid",
		},
		{
			name: "invalid fields",
			content: `
services:
  chat: "not a url"
nats:
  url: "http://nats:4222"
`,
			wantFields: []string{"services.chat", "nats.url"},
			wantText:   "✗ Configuration invalid",
		},
		{
			name:       "unparseable",
			content:    "server: [unclosed",
			wantFields: []string{""},
			wantText:   "✗ Configuration invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, cfg := validateConfig(writeConfig(t, tt.content))
			if result.Valid != tt.wantValid {
				t.Fatalf("valid = %v, want %v (errors %v)", result.Valid, tt.wantValid, result.Errors)
			}
			if tt.wantValid && cfg == nil {
				t.Fatal("expected a config for a valid file")
			}
			for _, f := range tt.wantFields {
				found := false
				for _, p := range result.Errors {
					if p.Field == f {
						found = true
					}
				}
				if !found {
					t.Errorf("missing error for field %q in %v", f, result.Errors)
				}
			}
			if !strings.Contains(result.String(), tt.wantText) {
				t.Errorf("text output missing %q:\n%s", tt.wantText, result.String())
			}
		})
	}
}

func TestValidateCommand_JSONWithProbe(t *testing.T) {
	up := upstream.NewServer()
	defer up.Close()
	up.Set("/health", upstream.Response{StatusCode: http.StatusServiceUnavailable, Body: `{"status":"unhealthy"}`})

	path := writeConfig(t, `
services:
  chat: "`+up.URL()+`"
routes:
  - prefix: "/api/v1/chat"
    service: chat
`)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate", "--config", path, "--format", "json", "--probe"})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		cfgFile = ""
		validateFlags.format = "text"
		validateFlags.probe = false
	}()

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	var result validationResult
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON output %q: %v", out.String(), err)
	}
	if !result.Valid || len(result.Services) != 1 {
		t.Errorf("unexpected result: %+v", result)
	}
	chat, ok := result.Probe["chat"]
	if !ok {
		t.Fatalf("probe missing chat: %+v", result.Probe)
	}
	if chat.Healthy() || !strings.Contains(chat.Error, "503") {
		t.Errorf("chat probe = %+v, want unhealthy with 503", chat)
	}
}

func TestValidateCommand_InvalidFails(t *testing.T) {
	path := writeConfig(t, "database:\n  backend: mongo\n")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate", "--config", path})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		cfgFile = ""
	}()

	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected validate to fail")
	}
	if !strings.Contains(out.String(), "database.backend") {
		t.Errorf("output should name the bad field:\n%s", out.String())
	}
}
