package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerontarget14/resilio-connect-scripts/internal/config"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/versions"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// fakeConsole serves just enough of the v2 API for read-only commands.
func fakeConsole(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/info", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"version": "2.9.0"}`))
	})
	mux.HandleFunc("/api/v2/agents", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id": 1, "name": "studio", "online": true, "os": "linux"}, {"id": 4, "name": "london", "status": "offline"}]`))
	})
	mux.HandleFunc("/api/v2/storages", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": [{"id": "abc", "name": "s3 storage", "type": "s3", "location": {"bucket": "b1", "region": "us-east-1"}}]}`))
	})
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func consoleConfig(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return writeTestFile(t, "resilioctl.yaml", fmt.Sprintf(`console:
  host: %s
  port: %s
  token: test-token
  insecure_skip_verify: true
store:
  driver: memory
storage:
  name: s3 storage
  secret_key: supersecret
`, u.Hostname(), u.Port()))
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "info", "agents", "jobs", "storage", "artist-sync", "config", "version"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("debug"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := execute(t, "", "version", "--format", "json")
	require.NoError(t, err)

	var info versions.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, versions.Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestGetLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for value, want := range tests {
		t.Setenv("RESILIOCTL_LOG_LEVEL", value)
		t.Setenv("LOG_LEVEL", "")
		assert.Equal(t, want, getLogLevel(), value)
	}

	t.Setenv("RESILIOCTL_LOG_LEVEL", "")
	t.Setenv("LOG_LEVEL", "error")
	assert.Equal(t, slog.LevelError, getLogLevel())
}

func TestWiringHelpers(t *testing.T) {
	cfg := &config.Config{
		Console: config.ConsoleConfig{Host: "mc.example.com", Port: 8443},
		Poll:    config.PollConfig{RunInterval: time.Second, ResolveAttempts: 3, ResolveDelay: time.Millisecond},
		Notify:  config.NotifyConfig{To: "+15550100"},
		Storage: config.StorageConfig{
			Name: "s3 storage", Kind: "s3", AccessKey: "id", SecretKey: "secret", Bucket: "b1", Region: "us-east-1",
		},
	}

	assert.Equal(t, "mc.example.com:8443", lockKey(cfg.Console))

	oc := orchestratorConfig(cfg)
	assert.Empty(t, oc.NotifyTo, "notifications need the full twilio settings")
	assert.Equal(t, uint(3), oc.ResolveAttempts)
	assert.Equal(t, "s3 storage", oc.Storage.Name)
	assert.Equal(t, domain.StorageKindS3, oc.Storage.Params.Kind)
	assert.Equal(t, domain.Location{Bucket: "b1", Region: "us-east-1"}, oc.Storage.Params.Location)

	cfg.Notify = config.NotifyConfig{To: "+15550100", From: "+15550000", AccountSID: "AC1", AuthToken: "tok"}
	assert.Equal(t, "+15550100", orchestratorConfig(cfg).NotifyTo)

	assert.Equal(t, "fixed", instanceName(&config.Config{Instance: "fixed"}))
	assert.NotEmpty(t, instanceName(&config.Config{}))
}

func TestConfirm(t *testing.T) {
	tests := map[string]bool{
		"y\n":   true,
		"YES\n": true,
		"n\n":   false,
		"\n":    false,
		"yes":   true,
		"":      false,
	}
	for in, want := range tests {
		got, err := confirm(strings.NewReader(in), io.Discard, "continue?")
		require.NoError(t, err)
		assert.Equal(t, want, got, "%q", in)
	}
}

func TestRenderTable(t *testing.T) {
	out := new(bytes.Buffer)
	require.NoError(t, renderTable(out, []string{"ID", "NAME"}, [][]string{{"1", "studio"}, {"4", "london"}}))
	assert.Contains(t, out.String(), "ID")
	assert.Contains(t, out.String(), "studio")
	assert.Contains(t, out.String(), "london")

	assert.Equal(t, "1,4", joinIDs([]domain.AgentID{1, 4}))
}

const artistsYAML = `artists:
  alice: london
locations:
  london: {agent_id: 12, root: /mnt/projects, os: linux}
local: {agent_id: 1, root: /Volumes/projects, os: osx}
paths:
  relative_vfx: ${SHOW}/shots/${SHOT}/vfx
`

func TestArtistSync_DryRun(t *testing.T) {
	path := writeTestFile(t, "artists.yaml", artistsYAML)

	out, err := execute(t, "", "artist-sync", "--show", "TST", "--shot", "TST_010_0010", "--artist", "alice",
		"--artists-config", path, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "SYNC:TST_010_0010:alice:london")
	assert.Contains(t, out, "agent 12 /mnt/projects/TST/shots/TST_010_0010/vfx")
	assert.Contains(t, out, "direction:   bidirectional")
}

func TestArtistSync_DeclinedConfirmation(t *testing.T) {
	path := writeTestFile(t, "artists.yaml", artistsYAML)

	_, err := execute(t, "n\n", "artist-sync", "--show", "TST", "--shot", "TST_010_0010", "--artist", "alice",
		"--artists-config", path)
	assert.ErrorIs(t, err, errAborted)
}

func TestArtistSync_InvalidShot(t *testing.T) {
	path := writeTestFile(t, "artists.yaml", artistsYAML)

	_, err := execute(t, "", "artist-sync", "--show", "TST", "--shot", "bad", "--artist", "alice",
		"--artists-config", path, "--dry-run")
	assert.ErrorContains(t, err, "shot must look like")
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	srv := fakeConsole(t)
	path := consoleConfig(t, srv)

	out, err := execute(t, "", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "****oken")
	assert.Contains(t, out, "****cret")
	assert.NotContains(t, out, "supersecret")
	assert.NotContains(t, out, "test-token")
}

func TestConfigEncrypt(t *testing.T) {
	t.Setenv("RESILIOCTL_SECRET_KEY", "")
	keyPath := filepath.Join(t.TempDir(), "secret.key")

	out, err := execute(t, "", "config", "encrypt", "--key", keyPath, "s3cr3t")
	require.NoError(t, err)
	enc := strings.TrimSpace(out)
	assert.True(t, config.IsEncrypted(enc))

	key, err := config.NewSecretKey(keyPath)
	require.NoError(t, err)
	plain, err := key.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", plain)
}

func TestInfoCmd(t *testing.T) {
	srv := fakeConsole(t)
	path := consoleConfig(t, srv)

	out, err := execute(t, "", "--config", path, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "version 2.9.0")
}

func TestAgentsList(t *testing.T) {
	srv := fakeConsole(t)
	path := consoleConfig(t, srv)

	out, err := execute(t, "", "--config", path, "agents", "list", "--format", "json")
	require.NoError(t, err)

	var agents []domain.Agent
	require.NoError(t, json.Unmarshal([]byte(out), &agents))
	require.Len(t, agents, 2)
	assert.Equal(t, "studio", agents[0].Name)
	assert.Equal(t, domain.AgentStatusOnline, agents[0].Status)
	assert.Equal(t, domain.AgentStatusOffline, agents[1].Status)
}

func TestAgentsShow(t *testing.T) {
	srv := fakeConsole(t)
	path := consoleConfig(t, srv)

	out, err := execute(t, "", "--config", path, "agents", "show", "4")
	require.NoError(t, err)
	var agent domain.Agent
	require.NoError(t, json.Unmarshal([]byte(out), &agent))
	assert.Equal(t, "london", agent.Name)

	_, err = execute(t, "", "--config", path, "agents", "show", "42")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = execute(t, "", "--config", path, "agents", "show", "abc")
	assert.ErrorContains(t, err, "invalid agent id")
}

func TestStorageEnsure_ExistingStorage(t *testing.T) {
	srv := fakeConsole(t)
	path := consoleConfig(t, srv)

	out, err := execute(t, "", "--config", path, "storage", "ensure")
	require.NoError(t, err)
	assert.Equal(t, "abc", strings.TrimSpace(out))
}

func TestStorageList_Table(t *testing.T) {
	srv := fakeConsole(t)
	path := consoleConfig(t, srv)

	out, err := execute(t, "", "--config", path, "storage", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "s3 storage")
	assert.Contains(t, out, "us-east-1")
}

func TestFormatFlag_Rejected(t *testing.T) {
	_, err := execute(t, "", "storage", "list", "--format", "xml")
	assert.ErrorContains(t, err, "unsupported format")
}
