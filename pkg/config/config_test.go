package config

import (
	"os"
	"path/filepath"
	"testing"
)

// writeConfigFile drops a minimal config.yaml into a temp dir and chdirs there.
func writeConfigFile(t *testing.T, content string) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config.yaml: %v", err)
	}

	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(orig)
	})
}

func TestLoad_Defaults(t *testing.T) {
	writeConfigFile(t, "env: local\n")
	t.Setenv("CREDENTIALS_ENCRYPTION_KEY", "test-passphrase")

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.LLM.ModelType != ModelTypeQwen {
		t.Errorf("expected default model type qwen, got %s", cfg.LLM.ModelType)
	}
	if cfg.LLM.MaxFixAttempts != 2 {
		t.Errorf("expected default max fix attempts 2, got %d", cfg.LLM.MaxFixAttempts)
	}
	if cfg.Context.MaxSessions != 500 {
		t.Errorf("expected default max sessions 500, got %d", cfg.Context.MaxSessions)
	}
	if cfg.Version != "test" {
		t.Errorf("expected version test, got %s", cfg.Version)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	writeConfigFile(t, "env: local\n")
	t.Setenv("CREDENTIALS_ENCRYPTION_KEY", "test-passphrase")
	t.Setenv("MODEL_TYPE", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("QWEN_MODEL_NAME", "qwen-max")
	t.Setenv("PORT", "9090")

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.ModelType != ModelTypeAnthropic {
		t.Errorf("expected anthropic, got %s", cfg.LLM.ModelType)
	}
	if cfg.LLM.AnthropicAPIKey != "sk-ant-test" {
		t.Errorf("API key not read from env")
	}
	if cfg.LLM.QwenModelName != "qwen-max" {
		t.Errorf("expected qwen-max, got %s", cfg.LLM.QwenModelName)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
}

func TestLoad_InvalidModelType(t *testing.T) {
	writeConfigFile(t, "env: local\n")
	t.Setenv("CREDENTIALS_ENCRYPTION_KEY", "test-passphrase")
	t.Setenv("MODEL_TYPE", "gemini")

	if _, err := Load("test"); err == nil {
		t.Fatal("expected error for unsupported MODEL_TYPE")
	}
}

func TestLoad_MissingCredentialsKey(t *testing.T) {
	writeConfigFile(t, "env: local\n")
	t.Setenv("CREDENTIALS_ENCRYPTION_KEY", "")

	if _, err := Load("test"); err == nil {
		t.Fatal("expected error when CREDENTIALS_ENCRYPTION_KEY unset")
	}
}

func TestParseJWKSEndpoints(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]string
	}{
		{
			name:  "empty",
			input: "",
			want:  map[string]string{},
		},
		{
			name:  "single pair",
			input: "https://auth.example.com=https://auth.example.com/.well-known/jwks.json",
			want: map[string]string{
				"https://auth.example.com": "https://auth.example.com/.well-known/jwks.json",
			},
		},
		{
			name:  "whitespace trimmed",
			input: " issuer = url ",
			want:  map[string]string{"issuer": "url"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseJWKSEndpoints(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d entries, got %d", len(tt.want), len(got))
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("endpoint %q: expected %q, got %q", k, v, got[k])
				}
			}
		})
	}
}
