package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"rocket-nested/internal/engine"
	"rocket-nested/internal/instrument"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	log.Printf("Config loaded (port: %d, driver: %s)", rt.cfg.Server.Port, rt.store.Dialect.Name())

	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	if ic := rt.cfg.Instrumentation; ic.Enabled {
		buffer := instrument.NewEventBuffer(rt.store.DB, rt.store.Dialect, ic.BufferSize, ic.FlushIntervalMs)
		defer buffer.Stop()
		instrument.CleanupOldEvents(ctx, rt.store.DB, rt.store.Dialect, ic.RetentionDays)
		app.Use(instrument.Middleware(buffer))
		log.Println("Instrumentation enabled")
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	writer := engine.NewWriter(rt.store, rt.reg)
	engine.RegisterRoutes(app, engine.NewHandler(writer, rt.reg))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down")
		if err := app.Shutdown(); err != nil {
			log.Printf("ERROR: shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%d", rt.cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	return app.Listen(addr)
}
