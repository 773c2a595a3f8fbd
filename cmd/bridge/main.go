// bridge: real-time voice bridge between Asterisk phone calls and the
// OpenAI Realtime API. Callers entering the Stasis application hold a
// spoken conversation with an AI agent, with barge-in interruption.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/deepakchaudharigit/ari-voice-bridge/internal/config"
	"github.com/deepakchaudharigit/ari-voice-bridge/internal/log"
	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/ari"
	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/ops"
	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/session"
)

var (
	version = "1.0.0"
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := ""
	if *debug {
		level = "debug"
	}
	log.Init(level)

	fmt.Println()
	fmt.Println("☎️  ari-voice-bridge v" + version)
	fmt.Println("   Asterisk ⇄ OpenAI Realtime voice bridge")
	fmt.Println()

	ariClient := ari.New(config.ARIURL(), config.ARIApp(), config.ARIUser(), config.ARIPassword(), log.L())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := ariClient.OpenEvents(ctx)
	if err != nil {
		log.Error("cannot reach asterisk", "error", err)
		os.Exit(1)
	}
	defer stream.Close()

	hub := ops.NewHub(log.L())
	go hub.Run(ctx)

	metrics := &ops.Metrics{}
	registry := session.NewRegistry()

	director := &callDirector{
		ari:          ariClient,
		registry:     registry,
		hub:          hub,
		metrics:      metrics,
		logger:       log.L(),
		mediaHost:    config.MediaHost(),
		idleTimeout:  config.IdleTimeout(),
		apiKey:       config.OpenAIKey(),
		systemPrompt: config.SystemPrompt(),
	}
	go director.run(ctx, stream)

	app := newServer(registry, metrics, hub)

	go func() {
		addr := ":" + config.HTTPPort()
		log.Info("operator surface listening", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	cancel()
	stream.Close()

	// End live calls so Asterisk channels are released before exit.
	for _, s := range registry.Sessions() {
		registry.Remove(s.ID, context.Canceled)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}
}

// newServer builds the operator HTTP surface: health, metrics, session
// inspection, and the live event websocket.
func newServer(registry *session.Registry, metrics *ops.Metrics, hub *ops.Hub) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "ari-voice-bridge",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if *debug {
		app.Use(logger.New())
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"version":  version,
			"sessions": registry.Count(),
		})
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		return c.SendString(metrics.Render(registry.Count(), hub.ClientCount()))
	})

	api := app.Group("/api")
	api.Get("/sessions", func(c *fiber.Ctx) error {
		type summary struct {
			ID        string    `json:"id"`
			State     string    `json:"state"`
			StartedAt time.Time `json:"started_at"`
			Turns     int       `json:"turns"`
		}
		sessions := registry.Sessions()
		out := make([]summary, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, summary{
				ID:        s.ID,
				State:     s.State().String(),
				StartedAt: s.StartedAt,
				Turns:     len(s.TurnHistory()),
			})
		}
		return c.JSON(out)
	})
	api.Get("/sessions/:id", func(c *fiber.Ctx) error {
		s, err := registry.Get(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
		}
		return c.JSON(fiber.Map{
			"id":         s.ID,
			"state":      s.State().String(),
			"started_at": s.StartedAt,
			"turns":      s.TurnHistory(),
		})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(func(conn *websocket.Conn) {
		ops.NewClient(hub, conn).Run()
	}))

	return app
}
