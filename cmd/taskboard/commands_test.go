package main

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard-api/api"
	"taskboard-api/service"
	"taskboard-api/storage"
)

var cliSecret = []byte("cli-secret")

type cliHarness struct {
	server string
	token  string
	config string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	auth, err := api.NewAuth(api.AuthConfig{Mode: api.AuthModeHS256, Secret: cliSecret})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	e := echo.New()
	api.Register(e, service.NewTaskService(storage.NewMemoryStore(), service.WithLogger(logger)), auth, nil, logger)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})
	signed, err := token.SignedString(cliSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return &cliHarness{server: srv.URL, token: signed, config: filepath.Join(t.TempDir(), "config.toml")}
}

func (h *cliHarness) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd(noEnv)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", h.config, "--server", h.server, "--token", h.token}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func (h *cliHarness) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := h.run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v (%s)", args, err, errOut)
	}
	return out
}

func TestCLIBoardWorkflow(t *testing.T) {
	h := newCLIHarness(t)

	first := strings.TrimSpace(h.mustRun(t, "add", "write", "report", "-d", "2024-05-01", "-p", "high"))
	second := strings.TrimSpace(h.mustRun(t, "add", "review", "-d", "2024-05-02"))
	if first == "" || second == "" || first == second {
		t.Fatalf("unexpected ids: %q %q", first, second)
	}

	h.mustRun(t, "reorder", second, "0")
	out := h.mustRun(t, "list", "--stage", "backlog")
	if strings.Index(out, second) > strings.Index(out, first) {
		t.Fatalf("expected %s before %s:\n%s", second, first, out)
	}

	out = h.mustRun(t, "move", first, "ongoing")
	if !strings.Contains(out, "ongoing") || !strings.Contains(out, "write report") {
		t.Fatalf("unexpected move output:\n%s", out)
	}
	out = h.mustRun(t, "advance", first)
	if !strings.Contains(out, "done") {
		t.Fatalf("unexpected advance output:\n%s", out)
	}
	out = h.mustRun(t, "edit", second, "--name", "review draft")
	if !strings.Contains(out, "review draft") || !strings.Contains(out, "2024-05-02") {
		t.Fatalf("edit must keep unchanged fields:\n%s", out)
	}

	out = h.mustRun(t, "summary")
	if !strings.Contains(out, "total: 2, completed: 1, pending: 1") {
		t.Fatalf("unexpected summary:\n%s", out)
	}

	h.mustRun(t, "rm", second)
	out = h.mustRun(t, "list")
	if strings.Contains(out, second) {
		t.Fatalf("deleted task still listed:\n%s", out)
	}
}

func TestCLIReportsServerErrors(t *testing.T) {
	h := newCLIHarness(t)

	_, errOut, err := h.run(t, "add", "x", "-d", "tomorrow")
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(errOut, "create failed") {
		t.Fatalf("expected notification on stderr, got %q", errOut)
	}

	if _, _, err := h.run(t, "move", "missing", "done"); err == nil {
		t.Fatal("expected error")
	}
	if _, _, err := h.run(t, "move", "missing", "someday"); err == nil {
		t.Fatal("expected invalid stage error")
	}
}
