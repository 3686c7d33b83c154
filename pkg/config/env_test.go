package config

import (
	"os"
	"testing"
)

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_GET_ENV_VAR", "test_value")
	defer os.Unsetenv("TEST_GET_ENV_VAR")

	if got := GetEnv("TEST_GET_ENV_VAR", "default"); got != "test_value" {
		t.Errorf("GetEnv() = %v, want %v", got, "test_value")
	}
	if got := GetEnv("NON_EXISTING_VAR", "default_value"); got != "default_value" {
		t.Errorf("GetEnv() = %v, want %v", got, "default_value")
	}
}

func TestGetEnvironment(t *testing.T) {
	clearEnv(t, "STOCKSYNC_SERVER_ENVIRONMENT")

	tests := []struct {
		envValue       string
		want           string
		productionLike bool
	}{
		{"development", "development", false},
		{"DEVELOPMENT", "development", false},
		{"staging", "staging", true},
		{"Production", "production", true},
		{"", "development", false},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			if tt.envValue == "" {
				os.Unsetenv("STOCKSYNC_SERVER_ENVIRONMENT")
			} else {
				os.Setenv("STOCKSYNC_SERVER_ENVIRONMENT", tt.envValue)
			}
			if got := GetEnvironment(); got != tt.want {
				t.Errorf("GetEnvironment() = %v, want %v", got, tt.want)
			}
			if got := isProductionLike(GetEnvironment()); got != tt.productionLike {
				t.Errorf("isProductionLike() = %v, want %v", got, tt.productionLike)
			}
			if got := IsDevelopment(); got != (tt.want == EnvDevelopment) {
				t.Errorf("IsDevelopment() = %v", got)
			}
		})
	}
}
