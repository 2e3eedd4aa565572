package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/dispatcher/internal/policy"
)

func writeSettings(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, s *Settings)
	}{
		{
			name: "empty file takes defaults",
			yaml: ``,
			checkFn: func(t *testing.T, s *Settings) {
				assert.Equal(t, "info", s.LogLevel)
				assert.Equal(t, "text", s.LogFormat)
				assert.Equal(t, DefaultListen, s.API.Listen)
				p, err := policy.Resolve(s)
				require.NoError(t, err)
				assert.Equal(t, policy.Default(), p)
			},
		},
		{
			name: "dispatcher keys",
			yaml: `
log_level: debug
log_format: json
history_db: /var/lib/dispatcher/history.db
DISPATCHER_POLLINTERVAL: 5
DISPATCHER_MAXRESMEM: 1048576
DISPATCHER_MAXTIME: 0.5
SOME_OTHER_TOOL_SETTING: ignored
`,
			checkFn: func(t *testing.T, s *Settings) {
				assert.Equal(t, "debug", s.LogLevel)
				assert.Equal(t, "json", s.LogFormat)
				assert.Equal(t, "/var/lib/dispatcher/history.db", s.HistoryDB)

				p, err := policy.Resolve(s)
				require.NoError(t, err)
				assert.Equal(t, 5*time.Second, p.PollInterval)
				assert.Equal(t, int64(1048576), p.MaxResidentMemoryKB)
				assert.Equal(t, 500*time.Millisecond, p.MaxWallClock)
				assert.ElementsMatch(t,
					[]string{"DISPATCHER_POLLINTERVAL", "DISPATCHER_MAXRESMEM", "DISPATCHER_MAXTIME"},
					s.DispatcherKeys())
			},
		},
		{
			name: "env var interpolation",
			yaml: `
history_db: ${HISTORY_DIR}/runs.db
DISPATCHER_MAXTIME: ${JOB_BUDGET}
`,
			env: map[string]string{"HISTORY_DIR": "/tmp/h", "JOB_BUDGET": "60"},
			checkFn: func(t *testing.T, s *Settings) {
				assert.Equal(t, "/tmp/h/runs.db", s.HistoryDB)
				v, ok := s.Lookup("DISPATCHER_MAXTIME")
				assert.True(t, ok)
				assert.Equal(t, "60", v)
			},
		},
		{
			name: "api section",
			yaml: `
api:
  listen: 0.0.0.0:9000
  api_key: ${ADMIN_KEY}
  tokens:
    - token: reader-token
      scopes: [jobs:ro]
`,
			env: map[string]string{"ADMIN_KEY": "s3cret"},
			checkFn: func(t *testing.T, s *Settings) {
				assert.Equal(t, "0.0.0.0:9000", s.API.Listen)
				assert.Equal(t, "s3cret", s.API.APIKey)
				require.Len(t, s.API.Tokens, 1)
				assert.Equal(t, []string{"jobs:ro"}, s.API.Tokens[0].Scopes)
				assert.Empty(t, s.DispatcherKeys())
			},
		},
		{
			name:    "token without scopes",
			yaml:    "api:\n  tokens:\n    - token: abc\n",
			wantErr: true,
		},
		{
			name:    "unset env var in dispatcher key",
			yaml:    `DISPATCHER_MAXTIME: "${UNSET_BUDGET_VAR_XYZ}"`,
			wantErr: true,
		},
		{
			name:    "invalid log level",
			yaml:    `log_level: loud`,
			wantErr: true,
		},
		{
			name:    "invalid log format",
			yaml:    `log_format: xml`,
			wantErr: true,
		},
		{
			name:    "negative memory",
			yaml:    `DISPATCHER_MAXRESMEM: -5`,
			wantErr: true,
		},
		{
			name:    "broken yaml",
			yaml:    "log_level: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			s, err := Parse([]byte(tt.yaml))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.checkFn != nil {
				tt.checkFn(t, s)
			}
		})
	}
}

func TestLookupEnvOverridesFile(t *testing.T) {
	s, err := Parse([]byte(`DISPATCHER_MAXTIME: 100`))
	require.NoError(t, err)

	t.Setenv("DISPATCHER_MAXTIME", "7")
	v, ok := s.Lookup("DISPATCHER_MAXTIME")
	assert.True(t, ok)
	assert.Equal(t, "7", v)

	_, ok = s.Lookup("DISPATCHER_NOT_THERE")
	assert.False(t, ok)
}

func TestLoadRecordsPathAndDigest(t *testing.T) {
	dir := t.TempDir()
	content := "DISPATCHER_MAXTIME: 10\n"
	path := writeSettings(t, dir, "settings.yaml", content)

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, s.Path)
	assert.Equal(t, DigestBytes([]byte(content)), s.Digest)
	assert.True(t, strings.HasPrefix(s.Digest, "blake3:"))
	assert.NoError(t, VerifyDigest(path, s.Digest))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, ErrSettingsNotFound)
}

func TestFind(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeSettings(t, second, "mysettings.yaml", "")
	writeSettings(t, second, "other.yml", "")
	explicit := writeSettings(t, first, "explicit.yaml", "")

	got, err := Find("mysettings", []string{first, second})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(second, "mysettings.yaml"), got)

	got, err = Find("other", []string{first, second})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(second, "other.yml"), got)

	got, err = Find(strings.TrimSuffix(explicit, ".yaml"), nil)
	require.NoError(t, err)
	assert.Equal(t, explicit, got)

	_, err = Find("missing", []string{first})
	assert.ErrorIs(t, err, ErrSettingsNotFound)

	_, err = Find("", nil)
	assert.ErrorIs(t, err, ErrSettingsNotFound)
}

func TestSplitSearchPath(t *testing.T) {
	assert.Equal(t, []string{"/a", "/b/c"}, SplitSearchPath("/a::/b/c: "))
	assert.Nil(t, SplitSearchPath(""))
}

func TestVerifyDigestMismatch(t *testing.T) {
	path := writeSettings(t, t.TempDir(), "s.yaml", "a: 1\n")
	err := VerifyDigest(path, DigestBytes([]byte("different")))
	assert.Error(t, err)
}
