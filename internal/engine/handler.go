package engine

import (
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"

	"rocket-nested/internal/metadata"
)

type Handler struct {
	writer   *Writer
	registry *metadata.Registry
}

func NewHandler(w *Writer, reg *metadata.Registry) *Handler {
	return &Handler{writer: w, registry: reg}
}

// GetByID handles GET /api/:entity/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	rec, err := h.writer.Find(c.UserContext(), entity.Name, c.Params("id"))
	if err != nil {
		return handleWriteError(c, err)
	}
	if includes := ParseIncludes(c.Query("include")); len(includes) > 0 {
		if err := h.writer.Include(c.UserContext(), rec, includes); err != nil {
			return handleWriteError(c, err)
		}
	}
	return c.JSON(fiber.Map{"data": rec.Fields})
}

// Create handles POST /api/:entity
func (h *Handler) Create(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}

	rec := NewRecord(entity.Name)
	if err := h.writer.CreateAll(c.UserContext(), rec, body); err != nil {
		return handleWriteError(c, err)
	}
	return c.Status(201).JSON(fiber.Map{"data": rec.Fields})
}

// Update handles PUT /api/:entity/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	rec, err := h.writer.Find(c.UserContext(), entity.Name, c.Params("id"))
	if err != nil {
		return handleWriteError(c, err)
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}

	if err := h.writer.SaveAll(c.UserContext(), rec, body); err != nil {
		return handleWriteError(c, err)
	}
	return c.JSON(fiber.Map{"data": rec.Fields})
}

func (h *Handler) resolveEntity(c *fiber.Ctx) (*metadata.Entity, error) {
	name := c.Params("entity")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		return nil, UnknownEntityError(name)
	}
	return entity, nil
}

func respondError(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
}

func handleWriteError(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return respondError(c, appErr)
	}
	return fmt.Errorf("%s %s: %w", c.Method(), c.Path(), err)
}

// ErrorHandler renders errors returned by handlers as ErrorResponse JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return respondError(c, appErr)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) && fiberErr.Code != fiber.StatusInternalServerError {
		return respondError(c, NewAppError("HTTP_ERROR", fiberErr.Code, fiberErr.Message))
	}

	log.Printf("ERROR: %v", err)
	return respondError(c, NewAppError("INTERNAL_ERROR", fiber.StatusInternalServerError, "Internal server error"))
}
