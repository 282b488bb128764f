package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"giftops/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("captcha", fx.Provide(NewHTTPSolver, NewArchiver))

// Result is one solver answer.
type Result struct {
	Text       string  `json:"code"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
}

// Solver turns a captcha image into its text. The second return reports
// whether the solver produced a usable answer; err is reserved for
// transport-level failures talking to the solver.
type Solver interface {
	Solve(ctx context.Context, image []byte) (Result, bool, error)
}

// HTTPSolver delegates to an external OCR service over HTTP.
type HTTPSolver struct {
	url    string
	client *http.Client
}

type solverResponse struct {
	Code       string  `json:"code"`
	Success    bool    `json:"success"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
}

func NewHTTPSolver(cfg *config.Config) Solver {
	timeout := cfg.Game.SolverTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPSolver{
		url:    cfg.Game.SolverURL,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSolver) Solve(ctx context.Context, image []byte) (Result, bool, error) {
	payload, err := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return Result{}, false, fmt.Errorf("captcha: encode solver request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, false, fmt.Errorf("captcha: build solver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, false, fmt.Errorf("captcha: solver call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, false, fmt.Errorf("captcha: solver returned %d", resp.StatusCode)
	}

	var out solverResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, false, fmt.Errorf("captcha: decode solver response: %w", err)
	}

	return Result{Text: out.Code, Method: out.Method, Confidence: out.Confidence}, out.Success, nil
}

// ValidFormat reports whether a solved text looks like a captcha the
// service would accept: exactly four alphanumeric characters. Submitting
// anything else burns a server-side check for nothing.
func ValidFormat(text string) bool {
	if len(text) != 4 {
		return false
	}
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
