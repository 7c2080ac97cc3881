package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// HealthCheck は依存コンポーネント1つ分の疎通確認。
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler は依存コンポーネントの疎通を確認するハンドラー。
type HealthHandler struct {
	checks  []HealthCheck
	timeout time.Duration
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{
		checks:  checks,
		timeout: 2 * time.Second,
	}
}

// ServeHTTP は全チェックが成功した場合に200、いずれかが失敗した場合に503を返す。
// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	for _, c := range h.checks {
		if err := c.Check(ctx); err != nil {
			slog.Error("health check failed",
				slog.String("component", c.Name),
				slog.String("error", err.Error()),
			)
			middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewServiceUnavailableError(c.Name))
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
