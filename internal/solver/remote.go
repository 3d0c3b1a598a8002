// File: internal/solver/remote.go
package solver

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/veilcore/api/schemas"
	"github.com/xkilldash9x/veilcore/internal/config"
)

// ErrNoSolverService indicates no solving backend is configured.
var ErrNoSolverService = errors.New("solver: no solving service configured")

const maxSolverResponseBytes = 1 << 20

// RemoteSolver delegates to an external solving service over HTTP. The service
// fans out across its own strategies and returns only the single best answer;
// that routing is opaque here.
type RemoteSolver struct {
	cfg    config.SolverConfig
	log    *zap.Logger
	client *http.Client
}

var _ Solver = (*RemoteSolver)(nil)

func NewRemoteSolver(cfg config.SolverConfig, logger *zap.Logger) *RemoteSolver {
	return &RemoteSolver{
		cfg:    cfg,
		log:    logger.Named("remote_solver"),
		client: &http.Client{},
	}
}

type solveRequest struct {
	Type  string `json:"type"`
	Image string `json:"image_b64"`
}

type solveResponse struct {
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

func (r *RemoteSolver) Solve(ctx context.Context, challengeType string, image []byte) (schemas.SolverAnswer, error) {
	if r.cfg.ServiceURL == "" {
		return schemas.SolverAnswer{}, ErrNoSolverService
	}

	payload, err := json.Marshal(solveRequest{
		Type:  challengeType,
		Image: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return schemas.SolverAnswer{}, fmt.Errorf("encode solve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.ServiceURL, bytes.NewReader(payload))
	if err != nil {
		return schemas.SolverAnswer{}, fmt.Errorf("build solve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return schemas.SolverAnswer{}, fmt.Errorf("call solving service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSolverResponseBytes))
	if err != nil {
		return schemas.SolverAnswer{}, fmt.Errorf("read solver response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return schemas.SolverAnswer{}, fmt.Errorf("solving service returned status %d", resp.StatusCode)
	}

	var decoded solveResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return schemas.SolverAnswer{}, fmt.Errorf("decode solver response: %w", err)
	}
	if decoded.Error != "" {
		return schemas.SolverAnswer{}, fmt.Errorf("solving service error: %s", decoded.Error)
	}

	r.log.Debug("solver responded",
		zap.String("type", challengeType),
		zap.Float64("confidence", decoded.Confidence))
	return schemas.SolverAnswer{Answer: decoded.Answer, Confidence: decoded.Confidence}, nil
}
