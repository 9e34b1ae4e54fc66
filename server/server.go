package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"stories/feeds"
)

type ServerConfig struct {

	// Feed sessions served by the app
	Sessions *Sessions

	// Comma separated list of origins allowed by CORS
	CORSOrigins string
}

// SessionState is the JSON summary of one feed session.
type SessionState struct {
	ID            string `json:"id"`
	Page          int    `json:"page"`
	HasMore       bool   `json:"hasMore"`
	IsLoading     bool   `json:"isLoading"`
	IsLoadingMore bool   `json:"isLoadingMore"`
	LastError     string `json:"lastError,omitempty"`
	Stories       int    `json:"stories"`
	Users         int    `json:"users"`
}

func sessionState(key string, engine *feeds.Engine) SessionState {
	state := engine.State()
	summary := SessionState{
		ID:            key,
		Page:          state.Page,
		HasMore:       state.HasMore,
		IsLoading:     state.IsLoading,
		IsLoadingMore: state.IsLoadingMore,
		Stories:       len(state.Stories),
		Users:         engine.Registry().Len(),
	}
	if state.LastError != nil {
		summary.LastError = state.LastError.Error()
	}
	return summary
}

func errorResponse(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// loadStatus maps an engine load error to a response status
func loadStatus(err error) int {
	switch {
	case errors.Is(err, feeds.ErrLoadInProgress), errors.Is(err, feeds.ErrSuperseded):
		return fiber.StatusConflict
	default:
		return fiber.StatusBadGateway
	}
}

// Returns a fiber.App instance exposing feed sessions over HTTP
func Server(config *ServerConfig) *fiber.App {

	sessions := config.Sessions

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: config.CORSOrigins,
		AllowHeaders: "Cache-Control, Content-Type",
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/sessions", func(c *fiber.Ctx) error {
		key, engine, err := sessions.Create()
		if err != nil {
			log.WithField("error", err).Error("Error creating feed session")
			return errorResponse(c, fiber.StatusInternalServerError, err)
		}

		if err := engine.InitialLoad(c.UserContext()); err != nil {
			log.WithFields(log.Fields{
				"key":   key,
				"error": err,
			}).Warn("Initial load failed for new session")
			return c.Status(loadStatus(err)).JSON(sessionState(key, engine))
		}

		return c.Status(fiber.StatusCreated).JSON(sessionState(key, engine))
	})

	session := app.Group("/sessions/:id", func(c *fiber.Ctx) error {
		engine, ok := sessions.Get(c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
		}
		c.Locals("engine", engine)
		return c.Next()
	})

	engineOf := func(c *fiber.Ctx) *feeds.Engine {
		return c.Locals("engine").(*feeds.Engine)
	}

	session.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(sessionState(c.Params("id"), engineOf(c)))
	})

	session.Get("/feed", func(c *fiber.Ctx) error {
		return c.JSON(engineOf(c).Presented())
	})

	session.Get("/timeline", func(c *fiber.Ctx) error {
		return c.JSON(engineOf(c).Timeline())
	})

	session.Post("/more", func(c *fiber.Ctx) error {
		engine := engineOf(c)
		if err := engine.LoadMore(c.UserContext()); err != nil {
			return errorResponse(c, loadStatus(err), err)
		}
		return c.JSON(sessionState(c.Params("id"), engine))
	})

	session.Post("/reload", func(c *fiber.Ctx) error {
		engine := engineOf(c)
		if err := engine.InitialLoad(c.UserContext()); err != nil {
			return errorResponse(c, loadStatus(err), err)
		}
		return c.JSON(sessionState(c.Params("id"), engine))
	})

	session.Post("/reset", func(c *fiber.Ctx) error {
		engine := engineOf(c)
		engine.Reset()
		return c.JSON(sessionState(c.Params("id"), engine))
	})

	session.Delete("/", func(c *fiber.Ctx) error {
		sessions.Remove(c.Params("id"))
		return c.SendStatus(fiber.StatusNoContent)
	})

	return app
}
