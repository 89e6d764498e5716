package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/reg-armada/internal/domain/registration"
	"github.com/ahrav/reg-armada/pkg/common/logger"
)

// TestHelperProcess is not a real test. It is the worker program launched by
// the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	if d := os.Getenv("HELPER_SLEEP"); d != "" {
		dur, _ := time.ParseDuration(d)
		time.Sleep(dur)
	}
	if path := os.Getenv(EnvResultFile); path != "" && os.Getenv("HELPER_UIN") != "" {
		data, _ := json.Marshal(registration.RegistrationResult{UIN: os.Getenv("HELPER_UIN"), Password: "pw"})
		_ = os.WriteFile(path, data, 0o600)
	}
	code, _ := strconv.Atoi(os.Getenv("HELPER_EXIT_CODE"))
	os.Exit(code)
}

func helperSpec(env ...string) Spec {
	return Spec{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		Env:     append([]string{"GO_WANT_HELPER_PROCESS=1"}, env...),
	}
}

func waitExit(t *testing.T, p *Process) Exit {
	t.Helper()
	select {
	case exit := <-p.Done():
		return exit
	case <-time.After(20 * time.Second):
		t.Fatal("worker did not exit")
		return Exit{}
	}
}

func TestLauncher_ExitCodes(t *testing.T) {
	l := NewLauncher(logger.Noop())

	tests := []struct {
		name string
		code int
	}{
		{name: "success", code: registration.ExitSucceeded},
		{name: "rate limited", code: registration.ExitRateLimited},
		{name: "invalid phone", code: registration.ExitInvalidPhone},
		{name: "crash", code: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := l.Launch(context.Background(), helperSpec("HELPER_EXIT_CODE="+strconv.Itoa(tt.code)))
			require.NoError(t, err)
			assert.Positive(t, p.PID)

			exit := waitExit(t, p)
			assert.Equal(t, tt.code, exit.Code)
			assert.False(t, exit.TimedOut)
			assert.False(t, exit.FinishedAt.Before(p.StartedAt))

			_, open := <-p.Done()
			assert.False(t, open, "done is closed after the single exit")
		})
	}
}

func TestLauncher_StartFailure(t *testing.T) {
	l := NewLauncher(logger.Noop())

	_, err := l.Launch(context.Background(), Spec{Command: filepath.Join(t.TempDir(), "missing-binary")})
	require.Error(t, err)

	_, err = l.Launch(context.Background(), Spec{})
	require.Error(t, err)
}

func TestLauncher_TimeoutTerminates(t *testing.T) {
	l := NewLauncher(logger.Noop(), WithGrace(100*time.Millisecond))

	spec := helperSpec("HELPER_SLEEP=30s")
	spec.Timeout = 200 * time.Millisecond

	p, err := l.Launch(context.Background(), spec)
	require.NoError(t, err)

	exit := waitExit(t, p)
	assert.True(t, exit.TimedOut)
	assert.NotEqual(t, 0, exit.Code)
}

func TestLauncher_ContextDoesNotKillWorker(t *testing.T) {
	l := NewLauncher(logger.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	p, err := l.Launch(ctx, helperSpec("HELPER_SLEEP=200ms", "HELPER_EXIT_CODE=2"))
	require.NoError(t, err)
	cancel()

	exit := waitExit(t, p)
	assert.Equal(t, registration.ExitRateLimited, exit.Code)
}

func TestLauncher_ExplicitTerminate(t *testing.T) {
	l := NewLauncher(logger.Noop(), WithGrace(50*time.Millisecond))

	p, err := l.Launch(context.Background(), helperSpec("HELPER_SLEEP=30s"))
	require.NoError(t, err)

	p.Terminate()
	p.Terminate()

	exit := waitExit(t, p)
	assert.False(t, exit.TimedOut)
	assert.NotEqual(t, 0, exit.Code)
}

func TestLauncher_WorkerWritesResult(t *testing.T) {
	l := NewLauncher(logger.Noop())
	tmpl := Template{
		Command:   os.Args[0],
		Args:      []string{"-test.run=TestHelperProcess", "--"},
		Env:       []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_UIN=10001"},
		ResultDir: t.TempDir(),
	}

	spec := tmpl.Spec("run-1", "tok", registration.NewPhoneNumber("111"))
	p, err := l.Launch(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, 0, waitExit(t, p).Code)

	res, err := ReadResult(spec.ResultFile)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "10001", res.UIN)
}
