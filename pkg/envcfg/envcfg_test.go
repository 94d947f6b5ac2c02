package envcfg

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvDefaultConcurrency, "")
	t.Setenv(EnvDefaultIterations, "")
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvLogFile, "")

	cfg := Load()
	if cfg.Concurrency != DefaultConcurrency {
		t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, DefaultConcurrency)
	}
	if cfg.Iterations != DefaultIterations {
		t.Errorf("Iterations = %d, want %d", cfg.Iterations, DefaultIterations)
	}
}

func TestLoadOverrides(t *testing.T) {
	tests := []struct {
		name    string
		envVal  string
		want    int
		envName string
	}{
		{"valid concurrency", "25", 25, EnvDefaultConcurrency},
		{"zero falls back", "0", DefaultConcurrency, EnvDefaultConcurrency},
		{"negative falls back", "-3", DefaultConcurrency, EnvDefaultConcurrency},
		{"non-numeric falls back", "abc", DefaultConcurrency, EnvDefaultConcurrency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envName, tt.envVal)
			cfg := Load()
			if cfg.Concurrency != tt.want {
				t.Errorf("Concurrency = %d, want %d", cfg.Concurrency, tt.want)
			}
		})
	}
}

func TestLoadURLAndLogFile(t *testing.T) {
	t.Setenv(EnvAPIURL, "https://example.invalid/v1")
	t.Setenv(EnvLogFile, "/tmp/artinet.log")

	cfg := Load()
	if cfg.APIURL != "https://example.invalid/v1" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.LogFile != "/tmp/artinet.log" {
		t.Errorf("LogFile = %q", cfg.LogFile)
	}
}
