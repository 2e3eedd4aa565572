package config

import (
	"fmt"
	"os"
	"strings"
)

// Settings is the resolved content of a dispatcher settings file.
//
// Besides the named keys below, any top-level DISPATCHER_* key is kept in
// Values and served through Lookup. Other keys are ignored so that one file
// can be shared with the tools that launch the dispatcher.
type Settings struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// HistoryDB is the path of the SQLite run ledger. Empty disables it.
	HistoryDB string `yaml:"history_db"`
	// API configures `dispatcher serve`.
	API APISettings `yaml:"api"`

	Values map[string]any `yaml:",inline"`

	// Path and Digest describe where the settings came from.
	Path   string `yaml:"-"`
	Digest string `yaml:"-"`
}

// APISettings configures the observer HTTP API.
type APISettings struct {
	Listen string          `yaml:"listen"`
	APIKey string          `yaml:"api_key"`
	Tokens []TokenSettings `yaml:"tokens"`
}

// TokenSettings is a scoped bearer token.
type TokenSettings struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// DefaultListen is the observer API address when none is configured.
const DefaultListen = "127.0.0.1:8787"

// Defaults returns Settings used when a key is missing from the file.
func Defaults() *Settings {
	return &Settings{
		LogLevel:  "info",
		LogFormat: "text",
		API:       APISettings{Listen: DefaultListen},
		Values:    make(map[string]any),
	}
}

// Lookup implements policy.Source. Environment variables win over the file
// so one job can be tuned without editing shared settings.
func (s *Settings) Lookup(name string) (string, bool) {
	if v, ok := os.LookupEnv(name); ok {
		return v, true
	}
	if s == nil || s.Values == nil {
		return "", false
	}
	v, ok := s.Values[name]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

// DispatcherKeys returns the DISPATCHER_* keys present in the file.
func (s *Settings) DispatcherKeys() []string {
	var keys []string
	for k := range s.Values {
		if strings.HasPrefix(k, envPrefix) {
			keys = append(keys, k)
		}
	}
	return keys
}
