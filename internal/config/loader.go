package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/dispatcher/internal/policy"
)

const envPrefix = "DISPATCHER_"

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrSettingsNotFound is returned when no settings file matches a name.
var ErrSettingsNotFound = errors.New("settings not found")

// settingsExtensions are tried, in order, when a name has no extension.
var settingsExtensions = []string{"", ".yaml", ".yml"}

// Find resolves a settings name to a file. A name containing a path
// separator is used as-is; otherwise each directory of searchPath and then
// the current directory is tried.
func Find(name string, searchPath []string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty settings name", ErrSettingsNotFound)
	}

	if strings.ContainsRune(name, os.PathSeparator) {
		for _, ext := range settingsExtensions {
			if isFile(name + ext) {
				return filepath.Abs(name + ext)
			}
		}
		return "", fmt.Errorf("%w: %s", ErrSettingsNotFound, name)
	}

	dirs := append(append([]string{}, searchPath...), ".")
	var tried []string
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, ext := range settingsExtensions {
			candidate := filepath.Join(dir, name+ext)
			tried = append(tried, candidate)
			if isFile(candidate) {
				return filepath.Abs(candidate)
			}
		}
	}
	return "", fmt.Errorf("%w: %s (checked: %s)", ErrSettingsNotFound, name, strings.Join(tried, ", "))
}

// SplitSearchPath splits a colon-separated search path.
func SplitSearchPath(s string) []string {
	var out []string
	for _, p := range filepath.SplitList(s) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads, interpolates and validates a settings file.
func Load(path string) (*Settings, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve settings path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSettingsNotFound, err)
	}

	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	s.Path = absPath
	s.Digest = DigestBytes(data)
	return s, nil
}

// Parse decodes settings from YAML, applies defaults and validates them.
func Parse(data []byte) (*Settings, error) {
	interpolated := interpolateEnv(string(data))

	s := Defaults()
	if err := yaml.Unmarshal([]byte(interpolated), s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	applyDefaults(s)

	if err := validate(s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func applyDefaults(s *Settings) {
	d := Defaults()
	if s.LogLevel == "" {
		s.LogLevel = d.LogLevel
	}
	if s.LogFormat == "" {
		s.LogFormat = d.LogFormat
	}
	if s.API.Listen == "" {
		s.API.Listen = d.API.Listen
	}
	if s.Values == nil {
		s.Values = d.Values
	}
}

func validate(s *Settings) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(s.LogLevel)] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", s.LogLevel)
	}
	switch strings.ToLower(s.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json (got %q)", s.LogFormat)
	}

	for i, t := range s.API.Tokens {
		if strings.TrimSpace(t.Token) == "" {
			return fmt.Errorf("api.tokens[%d]: token is empty", i)
		}
		if envVarPattern.MatchString(t.Token) {
			return fmt.Errorf("api.tokens[%d]: environment variable %s is not set", i, t.Token)
		}
		if len(t.Scopes) == 0 {
			return fmt.Errorf("api.tokens[%d]: at least one scope is required", i)
		}
	}

	keys := s.DispatcherKeys()
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := s.Values[k].(string); ok && envVarPattern.MatchString(v) {
			return fmt.Errorf("%s: environment variable %s is not set", k, v)
		}
	}

	if _, err := policy.Resolve(s); err != nil {
		return err
	}
	return nil
}

// interpolateEnv expands ${VAR} references. Unknown variables are left in
// place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
