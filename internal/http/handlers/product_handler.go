package handlers

import (
	"io"
	"strconv"
	"strings"

	"sonar/internal/domain"
	"sonar/internal/log"
	"sonar/internal/services"
	"sonar/internal/validate"

	"github.com/gofiber/fiber/v2"
)

// maxImageBytes bounds a single uploaded product image.
const maxImageBytes = 5 << 20

type ProductHandler struct {
	Catalog *services.CatalogService
}

func productID(c *fiber.Ctx) (int64, error) {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		log.Security(c, "validation.fail", map[string]any{"field": "product"})
		return 0, fiber.NewError(fiber.StatusNotFound, "This item is no longer available")
	}
	return id, nil
}

func (h *ProductHandler) List(c *fiber.Ctx) error {
	name, ok := validate.Q(c.Query("nombre"))
	if !ok {
		return badRequest(c, "nombre")
	}
	var cat int64
	if raw := c.Query("categoria"); raw != "" {
		if cat, ok = validate.ID(raw); !ok {
			return badRequest(c, "categoria")
		}
	}
	page, ok := validate.Page(c.Query("page"))
	if !ok {
		return badRequest(c, "page")
	}
	pg, err := h.Catalog.Products(c.UserContext(), domain.ProductFilter{Name: name, CategoryID: cat, Page: page})
	if err != nil {
		return err
	}
	return c.JSON(pg)
}

func (h *ProductHandler) Detail(c *fiber.Ctx) error {
	id, err := productID(c)
	if err != nil {
		return err
	}
	p, err := h.Catalog.Product(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(p)
}

// Create accepts either a JSON draft or a multipart form with an optional
// imagen file.
func (h *ProductHandler) Create(c *fiber.Ctx) error {
	var d domain.ProductDraft
	if c.Is("json") {
		if err := c.BodyParser(&d); err != nil {
			return badRequest(c, "product body")
		}
	} else if err := draftFromForm(c, &d); err != nil {
		return err
	}
	img, err := imageFromForm(c)
	if err != nil {
		return err
	}
	p, err := h.Catalog.CreateProductWithImage(c.UserContext(), d, img)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (h *ProductHandler) Update(c *fiber.Ctx) error {
	id, err := productID(c)
	if err != nil {
		return err
	}
	var patch domain.ProductPatch
	if c.Is("json") {
		if err := c.BodyParser(&patch); err != nil {
			return badRequest(c, "product body")
		}
	} else if err := patchFromForm(c, &patch); err != nil {
		return err
	}
	img, err := imageFromForm(c)
	if err != nil {
		return err
	}
	var old string
	if img != nil {
		cur, err := h.Catalog.Product(c.UserContext(), id)
		if err != nil {
			return err
		}
		if cur.Image != nil {
			old = *cur.Image
		}
	}
	p, err := h.Catalog.UpdateProductWithImage(c.UserContext(), id, patch, img, old)
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (h *ProductHandler) Delete(c *fiber.Ctx) error {
	id, err := productID(c)
	if err != nil {
		return err
	}
	if err := h.Catalog.DeleteProduct(c.UserContext(), id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ProductHandler) Stock(c *fiber.Ctx) error {
	id, err := productID(c)
	if err != nil {
		return err
	}
	var in struct {
		Delta string `json:"delta" form:"delta"`
	}
	if c.Is("json") {
		var body struct {
			Delta int `json:"delta"`
		}
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "delta")
		}
		in.Delta = strconv.Itoa(body.Delta)
	} else {
		in.Delta = c.FormValue("delta")
	}
	delta, ok := validate.Delta(in.Delta)
	if !ok {
		return badRequest(c, "delta")
	}
	p, err := h.Catalog.AdjustStock(c.UserContext(), id, delta)
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func draftFromForm(c *fiber.Ctx, d *domain.ProductDraft) error {
	d.Name = strings.TrimSpace(c.FormValue("nombre"))
	d.Description = optional(c.FormValue("descripcion"))
	if raw := c.FormValue("precio"); raw != "" {
		price, ok := validate.Price(raw)
		if !ok {
			return badRequest(c, "precio")
		}
		d.Price = price
	}
	if raw := c.FormValue("cantidad_stock"); raw != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return badRequest(c, "cantidad_stock")
		}
		d.StockQty = n
	}
	d.InStock = c.FormValue("stock") == "true" || c.FormValue("stock") == "on"
	if raw := c.FormValue("categoria_id"); raw != "" {
		id, ok := validate.ID(raw)
		if !ok {
			return badRequest(c, "categoria_id")
		}
		d.CategoryID = id
	}
	d.Category = optional(c.FormValue("categoria"))
	return nil
}

// patchFromForm sets only the fields sent non-empty. Clearing a description
// needs the JSON form.
func patchFromForm(c *fiber.Ctx, p *domain.ProductPatch) error {
	has := func(k string) bool { return c.FormValue(k) != "" }
	if has("nombre") {
		v := c.FormValue("nombre")
		p.Name = &v
	}
	if has("descripcion") {
		v := c.FormValue("descripcion")
		p.Description = &v
	}
	if has("precio") {
		price, ok := validate.Price(c.FormValue("precio"))
		if !ok {
			return badRequest(c, "precio")
		}
		p.Price = &price
	}
	if has("cantidad_stock") {
		n, err := strconv.Atoi(strings.TrimSpace(c.FormValue("cantidad_stock")))
		if err != nil {
			return badRequest(c, "cantidad_stock")
		}
		p.StockQty = &n
	}
	if has("stock") {
		v := c.FormValue("stock") == "true" || c.FormValue("stock") == "on"
		p.InStock = &v
	}
	if has("categoria_id") {
		id, ok := validate.ID(c.FormValue("categoria_id"))
		if !ok {
			return badRequest(c, "categoria_id")
		}
		p.CategoryID = &id
	}
	return nil
}

// imageFromForm returns nil when no imagen file was sent.
func imageFromForm(c *fiber.Ctx) (*services.ImageFile, error) {
	if !strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		return nil, nil
	}
	fh, err := c.FormFile("imagen")
	if err != nil {
		return nil, nil
	}
	if !validate.ImageName(fh.Filename) {
		return nil, badRequest(c, "imagen")
	}
	if fh.Size > maxImageBytes {
		log.Security(c, "upload.too_large", map[string]any{"size": fh.Size})
		return nil, fiber.NewError(fiber.StatusRequestEntityTooLarge, "Image is too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	body, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	return &services.ImageFile{Name: fh.Filename, Body: body}, nil
}
