package config

import "testing"

func TestEnvInt(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		defaultVal int
		want       int
	}{
		{name: "unset", value: "", defaultVal: 25, want: 25},
		{name: "valid", value: "10", defaultVal: 25, want: 10},
		{name: "invalid", value: "abc", defaultVal: 25, want: 25},
		{name: "zero rejected", value: "0", defaultVal: 25, want: 25},
		{name: "negative rejected", value: "-3", defaultVal: 25, want: 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TEST_ENV_INT", tt.value)
			}
			if got := envInt("TEST_ENV_INT", tt.defaultVal); got != tt.want {
				t.Errorf("envInt(%q) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestEnvFloat(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		defaultVal float32
		want       float32
	}{
		{name: "unset", value: "", defaultVal: 0.2, want: 0.2},
		{name: "valid", value: "0.35", defaultVal: 0.2, want: 0.35},
		{name: "invalid", value: "high", defaultVal: 0.2, want: 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TEST_ENV_FLOAT", tt.value)
			}
			if got := envFloat("TEST_ENV_FLOAT", tt.defaultVal); got != tt.want {
				t.Errorf("envFloat(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestEnvBool(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		defaultVal bool
		want       bool
	}{
		{name: "unset", value: "", defaultVal: false, want: false},
		{name: "true", value: "true", defaultVal: false, want: true},
		{name: "one", value: "1", defaultVal: false, want: true},
		{name: "invalid keeps default", value: "yes please", defaultVal: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TEST_ENV_BOOL", tt.value)
			}
			if got := envBool("TEST_ENV_BOOL", tt.defaultVal); got != tt.want {
				t.Errorf("envBool(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestLoad_EmbeddedDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Matcher.Mode != "dual_softmax" {
		t.Errorf("default mode = %q, want dual_softmax", cfg.Matcher.Mode)
	}
	if cfg.Matcher.Threshold != 0.2 {
		t.Errorf("default threshold = %v, want 0.2", cfg.Matcher.Threshold)
	}
	if cfg.Matcher.Temperature != 0.1 {
		t.Errorf("default temperature = %v, want 0.1", cfg.Matcher.Temperature)
	}
	if cfg.Matcher.SinkhornIterations != 3 {
		t.Errorf("default sinkhorn iterations = %d, want 3", cfg.Matcher.SinkhornIterations)
	}
	if cfg.Extractor.MaxImageSize != 640 {
		t.Errorf("default max image size = %d, want 640", cfg.Extractor.MaxImageSize)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("default max open conns = %d, want 25", cfg.Database.MaxOpenConns)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MATCHER_MODE", "sinkhorn")
	t.Setenv("MATCHER_THRESHOLD", "0.35")
	t.Setenv("MATCHER_SINKHORN_ITERATIONS", "7")
	t.Setenv("EXTRACTOR_URL", "http://extractor:9000")

	cfg := Load()
	if cfg.Matcher.Mode != "sinkhorn" {
		t.Errorf("mode = %q, want sinkhorn", cfg.Matcher.Mode)
	}
	if cfg.Matcher.Threshold != 0.35 {
		t.Errorf("threshold = %v, want 0.35", cfg.Matcher.Threshold)
	}
	if cfg.Matcher.SinkhornIterations != 7 {
		t.Errorf("sinkhorn iterations = %d, want 7", cfg.Matcher.SinkhornIterations)
	}
	if cfg.Extractor.URL != "http://extractor:9000" {
		t.Errorf("extractor URL = %q", cfg.Extractor.URL)
	}
}

func TestToMatcher(t *testing.T) {
	cfg := Load()
	mc := cfg.Matcher.ToMatcher()

	if string(mc.Mode) != cfg.Matcher.Mode {
		t.Errorf("mode not carried over")
	}
	if mc.Threshold != cfg.Matcher.Threshold || mc.Temperature != cfg.Matcher.Temperature {
		t.Errorf("numeric fields not carried over")
	}
}
