package middleware

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// IdempotencyMiddleware replays the cached response for a repeated X-Correlation-ID.
// Keys are scoped to the caller so one user cannot replay another's response.
func IdempotencyMiddleware(redisClient *redis.Client, ttl time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Only apply to mutating methods
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPatch && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		correlationID := c.Get("X-Correlation-ID")
		if correlationID == "" {
			return c.Next()
		}

		userID, _ := c.Locals(UserIDKey).(string)
		key := fmt.Sprintf("idempotency:%s:%s:%s", userID, c.Path(), correlationID)
		ctx := c.UserContext()

		cached, err := redisClient.Get(ctx, key).Bytes()
		if err == nil && len(cached) > 0 {
			c.Set("X-Idempotent-Replay", "true")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(cached)
		}
		if err != nil && err != redis.Nil {
			log.Printf("[Idempotency] Cache lookup failed for %s: %v", key, err)
		}

		if err := c.Next(); err != nil {
			return err
		}

		// Cache successful responses only
		statusCode := c.Response().StatusCode()
		if statusCode >= 200 && statusCode < 300 {
			// the response buffer is reused once the handler returns
			body := append([]byte(nil), c.Response().Body()...)
			if len(body) > 0 {
				go func() {
					bgCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					if err := redisClient.Set(bgCtx, key, body, ttl).Err(); err != nil {
						log.Printf("[Idempotency] Failed to cache %s: %v", key, err)
					}
				}()
			}
		}

		return nil
	}
}
