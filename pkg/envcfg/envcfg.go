// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package envcfg reads the module's four environment knobs once, at
// orchestrator construction time, and hands back explicit fields — never
// read ad hoc from deep inside the loop or Manager (design notes, "Global
// mutable knobs").
package envcfg

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	EnvDefaultConcurrency = "DEFAULT_CONCURRENCY"
	EnvDefaultIterations  = "DEFAULT_ITERATIONS"
	EnvAPIURL             = "ARTINET_API_URL"
	EnvLogFile            = "ARTINET_LOG_FILE"

	DefaultConcurrency = 10
	DefaultIterations  = 10
)

// Config is the resolved environment configuration.
type Config struct {
	Concurrency int
	Iterations  int
	APIURL      string
	LogFile     string
}

// Load reads the environment once and returns a Config with defaults
// applied. Before reading, it loads ".env.local" then ".env" into the
// process environment, the same precedence and files the teacher's own
// LoadEnvFiles uses; a missing file is not an error, and real environment
// variables already set take precedence over either file.
func Load() Config {
	_ = godotenv.Load(".env.local", ".env")
	return Config{
		Concurrency: getEnvInt(EnvDefaultConcurrency, DefaultConcurrency),
		Iterations:  getEnvInt(EnvDefaultIterations, DefaultIterations),
		APIURL:      os.Getenv(EnvAPIURL),
		LogFile:     os.Getenv(EnvLogFile),
	}
}

func getEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
