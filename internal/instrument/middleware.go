package instrument

import (
	"github.com/gofiber/fiber/v2"
)

// Middleware returns a Fiber middleware that sets up tracing for each request.
// It propagates or generates a trace ID, opens a root HTTP span and injects
// the instrumenter into the request context for downstream handlers.
func Middleware(buffer *EventBuffer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if buffer == nil {
			return c.Next()
		}

		traceID := c.Get("X-Trace-ID")
		if traceID == "" {
			traceID = newUUID()
		}

		inst := NewInstrumenter(buffer)
		ctx := WithInstrumenter(WithTraceID(c.UserContext(), traceID), inst)
		ctx, span := inst.StartSpan(ctx, "http", "handler", "request")
		span.SetMetadata("method", c.Method())
		span.SetMetadata("path", c.Path())
		c.SetUserContext(ctx)
		c.Set("X-Trace-ID", traceID)

		err := c.Next()

		status := c.Response().StatusCode()
		span.SetMetadata("status_code", status)
		if err != nil || status >= 400 {
			span.SetStatus("error")
		} else {
			span.SetStatus("ok")
		}
		span.End()
		return err
	}
}
