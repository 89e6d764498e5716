package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ahrav/reg-armada/internal/domain/registration"
)

// Environment variables set for every worker.
const (
	EnvRunID      = "REG_RUN_ID"
	EnvResultFile = "REG_RESULT_FILE"
)

// Template turns a phone number into a Spec. The argument layout is
//
//	<args...> -r <random> -c <captcha> -p remote [-ru <user> -rp <pass>]
//	  -s <server> --client <name> --session <token> --phone <number>
type Template struct {
	Command string
	Args    []string
	Dir     string
	Env     []string

	// ResultDir receives one <run>-<phone>.json file per worker. Empty disables
	// result files.
	ResultDir string
	Timeout   time.Duration

	Random          int
	CaptchaBackend  string
	CaptchaUser     string
	CaptchaPassword string

	Server     string
	ClientName string
}

// Spec builds the launch spec for phone.
func (t Template) Spec(runID, sessionToken string, phone registration.PhoneNumber) Spec {
	args := append([]string(nil), t.Args...)
	args = append(args,
		"-r", strconv.Itoa(t.Random),
		"-c", t.CaptchaBackend,
		"-p", "remote",
	)
	if t.CaptchaUser != "" {
		args = append(args, "-ru", t.CaptchaUser, "-rp", t.CaptchaPassword)
	}
	args = append(args,
		"-s", t.Server,
		"--client", t.ClientName,
		"--session", sessionToken,
		"--phone", phone.Number,
	)

	env := append([]string(nil), t.Env...)
	env = append(env, EnvRunID+"="+runID)

	var resultFile string
	if t.ResultDir != "" {
		resultFile = filepath.Join(t.ResultDir, resultFileName(runID, phone.Number))
		env = append(env, EnvResultFile+"="+resultFile)
	}

	return Spec{
		Command:    t.Command,
		Args:       args,
		Dir:        t.Dir,
		Env:        env,
		ResultFile: resultFile,
		Timeout:    t.Timeout,
	}
}

func resultFileName(runID, phone string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '+':
			return r
		default:
			return '_'
		}
	}, phone)
	return runID + "-" + clean + ".json"
}

// ReadResult loads the RegistrationResult a worker left at path. A missing
// file means the worker produced none and yields (nil, nil).
func ReadResult(path string) (*registration.RegistrationResult, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read worker result %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var res registration.RegistrationResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode worker result %s: %w", path, err)
	}
	if res.UIN == "" {
		return nil, fmt.Errorf("worker result %s has no uin", path)
	}
	return &res, nil
}
