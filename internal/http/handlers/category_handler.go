package handlers

import (
	"sonar/internal/services"
	"sonar/internal/validate"

	"github.com/gofiber/fiber/v2"
)

type CategoryHandler struct {
	Catalog *services.CatalogService
}

func (h *CategoryHandler) List(c *fiber.Ctx) error {
	cats, err := h.Catalog.Categories(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(cats)
}

func (h *CategoryHandler) Create(c *fiber.Ctx) error {
	var in struct {
		Description string `json:"descripcion" form:"descripcion"`
	}
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "category body")
	}
	desc, ok := validate.Name(in.Description)
	if !ok {
		return badRequest(c, "descripcion")
	}
	cat, err := h.Catalog.CreateCategory(c.UserContext(), desc)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(cat)
}
