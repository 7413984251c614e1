package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
)

func TestCorrelationIDPropagates(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(CorrelationIDFromContext(c.UserContext()))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "batch-req:42")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, "batch-req:42", resp.Header.Get("X-Correlation-ID"))
}

func TestCorrelationIDReplacesUnsafeValues(t *testing.T) {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for _, incoming := range []string{"bad id\nwith newline", strings.Repeat("a", maxCorrelationIDLength+1)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Correlation-ID", incoming)
		resp, err := app.Test(req)
		require.NoError(t, err)

		got := resp.Header.Get("X-Correlation-ID")
		require.NotEqual(t, incoming, got)
		require.Len(t, got, 36)
	}
}
