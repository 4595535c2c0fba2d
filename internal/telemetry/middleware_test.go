package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestFiberMiddleware_RecordsRoute(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	app := fiber.New()
	app.Use(FiberMiddleware(m))
	app.Get("/v1/packages/:id", func(c *fiber.Ctx) error {
		// downstream code sees the request span through the user context
		assert.NotNil(t, trace.SpanFromContext(c.UserContext()))
		return c.SendStatus(fiber.StatusNotFound)
	})

	for range 2 {
		resp, err := app.Test(httptest.NewRequest("GET", "/v1/packages/pkg_basic_30", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	}

	assert.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration), "one series per route, not per path")
}

func TestFiberMiddleware_NilMetrics(t *testing.T) {
	app := fiber.New()
	app.Use(FiberMiddleware(nil))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
