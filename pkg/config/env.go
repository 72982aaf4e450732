// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and $VAR references.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvString substitutes environment references in s.
// ${VAR:-default} falls back to default when VAR is unset or empty.
func expandEnvString(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if strings.HasPrefix(match, "${") {
			inner := match[2 : len(match)-1]
			if idx := strings.Index(inner, ":-"); idx != -1 {
				if val := os.Getenv(inner[:idx]); val != "" {
					return val
				}
				return inner[idx+2:]
			}
			return os.Getenv(inner)
		}
		return os.Getenv(match[1:])
	})
}

// expandEnvValue walks a decoded YAML value and expands every string.
func expandEnvValue(v any) any {
	switch val := v.(type) {
	case string:
		return expandEnvString(val)
	case map[string]any:
		result := make(map[string]any, len(val))
		for k, item := range val {
			result[k] = expandEnvValue(item)
		}
		return result
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = expandEnvValue(item)
		}
		return result
	default:
		return v
	}
}

func getenv(keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

// detectProviderFromEnv picks a provider from the ambient credentials.
// Azure wins when both are present; its variables are more specific.
func detectProviderFromEnv() Provider {
	if getenv("AZURE_ENDPOINT", "AZURE_AI_ENDPOINT") != "" {
		return ProviderAzure
	}
	if getenv("GEMINI_API_KEY", "GOOGLE_API_KEY") != "" {
		return ProviderGemini
	}
	return ProviderAzure
}

// GetProviderAPIKey returns the conventional API key variable for a
// provider type. Azure uses the client-credentials flow, not a key.
func GetProviderAPIKey(providerType string) string {
	switch Provider(providerType) {
	case ProviderGemini:
		return getenv("GEMINI_API_KEY", "GOOGLE_API_KEY")
	default:
		return ""
	}
}

// LoadDotEnv loads environment variables from .env files without
// overwriting variables already set. Search order: explicit paths,
// .env in the working directory, ~/.env. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if path != "" {
			if err := loadIfExists(path); err != nil {
				return err
			}
		}
	}
	if err := loadIfExists(".env"); err != nil {
		return err
	}
	if home, err := os.UserHomeDir(); err == nil {
		return loadIfExists(filepath.Join(home, ".env"))
	}
	return nil
}

// LoadDotEnvForConfig loads .env from the config file's directory first,
// so credentials can live next to the config they serve.
func LoadDotEnvForConfig(configPath string) error {
	if configPath == "" {
		return LoadDotEnv()
	}
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return LoadDotEnv()
	}
	return LoadDotEnv(filepath.Join(filepath.Dir(absPath), ".env"))
}

func loadIfExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}
