package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/wellness/internal/domain"
)

// AdminHandler manages the catalog and runs maintenance
type AdminHandler struct {
	catalog      Catalog
	entitlements Entitlements
}

func NewAdminHandler(catalog Catalog, entitlements Entitlements) *AdminHandler {
	return &AdminHandler{catalog: catalog, entitlements: entitlements}
}

// PackageBody is the body of the admin package endpoints
type PackageBody struct {
	ID               string   `json:"id" validate:"required"`
	Name             string   `json:"name" validate:"required"`
	Description      string   `json:"description"`
	Type             string   `json:"type" validate:"required,oneof=single basic enhanced premium"`
	Price            int64    `json:"price" validate:"gte=0"`
	BaseAmount       int64    `json:"base_amount" validate:"gte=0"`
	Currency         string   `json:"currency" validate:"required,len=3"`
	DurationDays     int      `json:"duration_days" validate:"gt=0"`
	Features         []string `json:"features"`
	MaxPrescriptions int      `json:"max_prescriptions" validate:"gte=0"`
}

func (b PackageBody) toPackage() *domain.Package {
	return &domain.Package{
		ID:               b.ID,
		Name:             b.Name,
		Description:      b.Description,
		Type:             domain.PackageType(b.Type),
		Price:            b.Price,
		BaseAmount:       b.BaseAmount,
		Currency:         b.Currency,
		DurationDays:     b.DurationDays,
		Features:         b.Features,
		MaxPrescriptions: b.MaxPrescriptions,
	}
}

// CreatePackage handles POST /v1/admin/packages
func (h *AdminHandler) CreatePackage(c *fiber.Ctx) error {
	var body PackageBody
	if msg := bindBody(c, &body, false); msg != "" {
		return fail(c, fiber.StatusBadRequest, msg)
	}

	pkg := body.toPackage()
	if err := h.catalog.Create(c.UserContext(), pkg); err != nil {
		return writeError(c, "Admin", err)
	}
	return successMessage(c, fiber.StatusCreated, "package created", pkg)
}

// UpdatePackage handles PUT /v1/admin/packages/:id. The path id wins over the body.
func (h *AdminHandler) UpdatePackage(c *fiber.Ctx) error {
	var body PackageBody
	body.ID = c.Params("id")
	if msg := bindBody(c, &body, false); msg != "" {
		return fail(c, fiber.StatusBadRequest, msg)
	}
	body.ID = c.Params("id")

	existing, err := h.catalog.Get(c.UserContext(), body.ID)
	if err != nil {
		return writeError(c, "Admin", err)
	}

	pkg := body.toPackage()
	pkg.IsActive = existing.IsActive
	pkg.CreatedAt = existing.CreatedAt
	if err := h.catalog.Update(c.UserContext(), pkg); err != nil {
		return writeError(c, "Admin", err)
	}
	return successMessage(c, fiber.StatusOK, "package updated", pkg)
}

// DeactivatePackage handles POST /v1/admin/packages/:id/deactivate
func (h *AdminHandler) DeactivatePackage(c *fiber.Ctx) error {
	if err := h.catalog.Deactivate(c.UserContext(), c.Params("id")); err != nil {
		return writeError(c, "Admin", err)
	}
	return successMessage(c, fiber.StatusOK, "package deactivated", nil)
}

// RunSweep handles POST /v1/admin/entitlements/sweep
func (h *AdminHandler) RunSweep(c *fiber.Ctx) error {
	report, err := h.entitlements.SweepExpired(c.UserContext())
	if err != nil {
		return writeError(c, "Admin", err)
	}
	return success(c, report)
}
