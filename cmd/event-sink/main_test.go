package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openedx/event-sink-clickhouse/pkg/config"
	"github.com/openedx/event-sink-clickhouse/pkg/models"
	"github.com/openedx/event-sink-clickhouse/pkg/repository"
	"github.com/openedx/event-sink-clickhouse/pkg/repository/memory"
	"github.com/openedx/event-sink-clickhouse/pkg/sink"
)

// clickhouseStub answers every request with 200 and records the queries.
type clickhouseStub struct {
	mu      sync.Mutex
	queries []string
}

func (s *clickhouseStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.queries = append(s.queries, r.URL.Query().Get("query"))
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *clickhouseStub) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func writeConfig(t *testing.T, url string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "clickhouse:\n  url: " + url + "\n" +
		"repository:\n  driver: memory\n" +
		"observability:\n  log:\n    level: error\n    encoding: json\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// run executes the CLI with store as the repository and returns its output.
func run(t *testing.T, store *memory.Store, args ...string) (string, error) {
	t.Helper()
	a := newApp()
	a.openRepository = func(context.Context, *config.Config, *zap.Logger) (repository.Repository, func(), error) {
		if store == nil {
			t.Fatal("repository opened for a command that should have failed validation")
		}
		return store, func() {}, nil
	}

	var out bytes.Buffer
	root := a.rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, nil, "version")
	require.NoError(t, err)
	assert.Equal(t, "event-sink version "+version+"\n", out)
}

func TestDumpFlagValidation(t *testing.T) {
	stub := &clickhouseStub{}
	server := httptest.NewServer(stub)
	defer server.Close()
	cfgPath := writeConfig(t, server.URL)

	tests := []struct {
		name string
		args []string
		want error
	}{
		{
			name: "zero limit",
			args: []string{"dump-courses", "--limit", "0"},
			want: sink.ErrInvalidLimit,
		},
		{
			name: "negative limit on objects",
			args: []string{"dump-objects", "--object", "user_profile", "--limit=-3"},
			want: sink.ErrInvalidLimit,
		},
		{
			name: "limit with force",
			args: []string{"dump-courses", "--limit", "2", "--force"},
			want: sink.ErrLimitWithForce,
		},
		{
			name: "limit with force on objects",
			args: []string{"dump-objects", "--object", "external_id", "--limit", "1", "--force"},
			want: sink.ErrLimitWithForce,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, nil, append([]string{"--config", cfgPath}, tt.args...)...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, stub.Queries())
}

func TestDumpObjectsRejectsUnknownKinds(t *testing.T) {
	stub := &clickhouseStub{}
	server := httptest.NewServer(stub)
	defer server.Close()
	cfgPath := writeConfig(t, server.URL)

	_, err := run(t, nil, "--config", cfgPath, "dump-objects", "--object", "auth_user")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be dumped")

	_, err = run(t, nil, "--config", cfgPath, "dump-objects", "--object", "enrollments")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sink is registered for \"enrollments\"")
	assert.Empty(t, stub.Queries())
}

func TestDumpObjects(t *testing.T) {
	stub := &clickhouseStub{}
	server := httptest.NewServer(stub)
	defer server.Close()
	cfgPath := writeConfig(t, server.URL)

	store := memory.New()
	store.Put(repository.KindUserProfile,
		&models.UserProfile{ID: 1, UserID: 10, Name: "Ada"},
		&models.UserProfile{ID: 2, UserID: 20, Name: "Grace"},
		&models.UserProfile{ID: 3, UserID: 30, Name: "Edsger"},
	)

	out, err := run(t, store, "--config", cfgPath, "dump-objects",
		"--object", "user_profile", "--ids_to_skip", "2", "--batch_size", "5", "--sleep_time", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "2 user_profile submitted for export to ClickHouse: 1, 3")
	assert.Contains(t, out, "0 user_profile skipped.")

	queries := stub.Queries()
	require.Len(t, queries, 1)
	assert.Equal(t, "INSERT INTO event_sink.user_profile FORMAT CSV", queries[0])
}

func TestDumpCoursesWithOverrides(t *testing.T) {
	stub := &clickhouseStub{}
	server := httptest.NewServer(stub)
	defer server.Close()
	cfgPath := writeConfig(t, "http://unreachable.invalid:8123")

	out, err := run(t, memory.New(), "--config", cfgPath, "dump-courses",
		"--url", server.URL, "--database", "reporting")
	require.NoError(t, err)
	assert.Contains(t, out, "No courses submitted for export to ClickHouse at all!")
	assert.Empty(t, stub.Queries())
}

func TestConnectionOverrides(t *testing.T) {
	var conn connectionFlags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	conn.register(fs)
	require.NoError(t, fs.Parse([]string{"--url", "http://ch:8123", "--timeout_secs", "30"}))

	o := conn.overrides(fs)
	require.NotNil(t, o.URL)
	assert.Equal(t, "http://ch:8123", *o.URL)
	require.NotNil(t, o.TimeoutSecs)
	assert.Equal(t, 30, *o.TimeoutSecs)
	assert.Nil(t, o.Username)
	assert.Nil(t, o.Password)
	assert.Nil(t, o.Database)

	base := config.NewDefaultConfig().ClickHouse
	merged := base.WithOverrides(o)
	assert.Equal(t, base.Database, merged.Database)
	assert.Equal(t, 30, merged.TimeoutSecs)
}

func TestEnvironmentOverridesConfigFile(t *testing.T) {
	cfgPath := writeConfig(t, "http://from-file:8123")
	t.Setenv("EVENT_SINK_CLICKHOUSE_DATABASE", "from_env")

	a := newApp()
	a.v.Set("config", cfgPath)
	require.NoError(t, a.loadConfig())
	assert.Equal(t, "http://from-file:8123", a.cfg.ClickHouse.URL)
	assert.Equal(t, "from_env", a.cfg.ClickHouse.Database)
	assert.Equal(t, "memory", a.cfg.Repository.Driver)
}
