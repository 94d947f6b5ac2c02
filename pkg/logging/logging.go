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

// Package logging provides the module's structured logger. Every package
// logs through log/slog with a "component" attribute rather than rolling
// its own logging.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu      sync.Mutex
	current *slog.Logger
)

// ParseLevel converts a string log level to slog.Level. Unknown values fall
// back to Info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init configures the package-level logger to write level-filtered text logs
// to output, and installs it as the slog default.
func Init(level slog.Level, output *os.File) *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	handler := slog.NewTextHandler(output, &slog.HandlerOptions{Level: level})
	current = slog.New(handler)
	slog.SetDefault(current)
	return current
}

// OpenLogFile opens (creating if necessary) a log file at path for append
// writes, returning the file and a cleanup func to close it.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

// For returns a component-scoped logger, initializing the default logger
// (Info level, stderr) on first use if Init was never called.
func For(component string) *slog.Logger {
	mu.Lock()
	logger := current
	mu.Unlock()
	if logger == nil {
		logger = Init(slog.LevelInfo, os.Stderr)
	}
	return logger.With("component", component)
}
