package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/aureeaubert/hull-closeio/internal/model"
	echo "github.com/labstack/echo/v4"
)

func listEventsHandler(repo EventLister) echo.HandlerFunc {
	return func(c echo.Context) error {
		kind, ok := model.ParseEntityKind(c.QueryParam("kind"))
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "kind must be user or account"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var outcome string
		switch raw := strings.TrimSpace(c.QueryParam("outcome")); raw {
		case model.OutcomeSuccess, model.OutcomeSkipped, model.OutcomeError:
			outcome = raw
		}

		events, err := repo.ListByEntity(
			c.Request().Context(),
			kind.String(),
			strings.TrimSpace(c.QueryParam("id")),
			outcome,
			limit,
			offset,
		)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(events),
			"results": events,
		})
	}
}
