// Package trigger turns refresh requests from Kafka into direct refresh
// cycles.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/internal/refresh"
	apperrors "github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Code-Index-Refresh/pkg/logger"
)

// Request is the payload of the refresh-requests topic. The message key is
// used when Alias is empty.
type Request struct {
	Alias       string `json:"alias"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// Refresher runs one refresh cycle.
type Refresher interface {
	RefreshRepo(ctx context.Context, alias string) (refresh.Outcome, error)
}

type Handler struct {
	refresher Refresher
	logger    *slog.Logger
}

func NewHandler(r Refresher) *Handler {
	return &Handler{
		refresher: r,
		logger:    logger.WithComponent("refresh-trigger"),
	}
}

// Handle matches kafka.MessageHandler. A failed cycle is logged and the
// message committed; the periodic tick retries the alias anyway.
func (h *Handler) Handle(ctx context.Context, key, value []byte) error {
	req := Request{}
	if len(strings.TrimSpace(string(value))) > 0 {
		var err error
		req, err = kafka.DecodeJSON[Request](value)
		if err != nil {
			return err
		}
	}
	if req.Alias == "" {
		req.Alias = string(key)
	}
	if req.Alias == "" {
		return fmt.Errorf("%w: refresh request without alias", kafka.ErrPoison)
	}

	outcome, err := h.refresher.RefreshRepo(ctx, req.Alias)
	switch {
	case errors.Is(err, apperrors.ErrRepoNotFound):
		return fmt.Errorf("%w: %w", kafka.ErrPoison, err)
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h.logger.Warn("requested refresh failed",
			"alias", req.Alias,
			"requested_by", req.RequestedBy,
			"stage", string(apperrors.StageOf(err)),
			"error", err,
		)
		return nil
	}
	h.logger.Info("requested refresh complete",
		"alias", req.Alias,
		"requested_by", req.RequestedBy,
		"outcome", outcome.String(),
	)
	return nil
}
