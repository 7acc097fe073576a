package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aureeaubert/hull-closeio/internal/model"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type notifyResponse struct {
	BatchID      string `json:"batch_id"`
	Kind         string `json:"kind"`
	Received     int    `json:"received"`
	Deduplicated int    `json:"deduplicated"`
	Inserted     int    `json:"inserted"`
	Updated      int    `json:"updated"`
	Skipped      int    `json:"skipped"`
	Failed       int    `json:"failed"`
}

// notifyHandler runs one platform notification through the agent and
// answers with the batch report.
func notifyHandler(s Syncer, l *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var n model.Notification
		if err := json.NewDecoder(c.Request().Body).Decode(&n); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid json"})
		}

		kind, ok := model.ParseEntityKind(n.Channel)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown channel"})
		}
		if len(n.Messages) == 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "no messages"})
		}

		rep, err := s.Send(c.Request().Context(), kind, n.Messages)
		if err != nil {
			l.Error("notification failed", zap.String("kind", kind.String()), zap.Error(err))
			if errors.Is(err, model.ErrConfiguration) {
				return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			}
			return c.JSON(http.StatusBadGateway, map[string]string{"error": "sync failed"})
		}

		return c.JSON(http.StatusOK, notifyResponse{
			BatchID:      rep.BatchID,
			Kind:         rep.Kind.String(),
			Received:     rep.Received,
			Deduplicated: rep.Deduplicated,
			Inserted:     rep.Inserted,
			Updated:      rep.Updated,
			Skipped:      rep.Skipped,
			Failed:       rep.Failed,
		})
	}
}
