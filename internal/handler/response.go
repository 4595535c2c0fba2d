package handler

import (
	"errors"
	"log"
	"strings"

	"github.com/go-playground/validator"
	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/wellness/internal/domain"
)

var validate = validator.New()

// errorStatus maps domain errors to HTTP statuses, first match wins
var errorStatus = []struct {
	err    error
	status int
}{
	{domain.ErrInvalidInput, fiber.StatusBadRequest},
	{domain.ErrInvalidID, fiber.StatusBadRequest},
	{domain.ErrForbidden, fiber.StatusForbidden},

	{domain.ErrNotFound, fiber.StatusNotFound},
	{domain.ErrUserNotFound, fiber.StatusNotFound},
	{domain.ErrPackageNotFound, fiber.StatusNotFound},
	{domain.ErrUserPackageNotFound, fiber.StatusNotFound},
	{domain.ErrNoActivePackage, fiber.StatusNotFound},
	{domain.ErrGiftCardNotFound, fiber.StatusNotFound},

	{domain.ErrNotRenewalEligible, fiber.StatusBadRequest},
	{domain.ErrPackageInactive, fiber.StatusBadRequest},
	{domain.ErrPaymentMismatch, fiber.StatusBadRequest},
	{domain.ErrAlreadyRenewed, fiber.StatusConflict},
	{domain.ErrGiftAlreadyRedeemed, fiber.StatusConflict},
	{domain.ErrInvalidState, fiber.StatusConflict},
	{domain.ErrConcurrentUpdate, fiber.StatusConflict},

	{domain.ErrPaymentNotSucceeded, fiber.StatusPaymentRequired},
	{domain.ErrPaymentVerificationFailed, fiber.StatusBadGateway},
}

func success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

func successMessage(c *fiber.Ctx, status int, message string, data interface{}) error {
	body := fiber.Map{
		"success": true,
		"message": message,
	}
	if data != nil {
		body["data"] = data
	}
	return c.Status(status).JSON(body)
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

// writeError renders err as a failure response. Unknown errors are logged
// under tag and hidden behind a generic message.
func writeError(c *fiber.Ctx, tag string, err error) error {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			message := e.err.Error()
			if e.status == fiber.StatusBadGateway {
				log.Printf("[%s] %v", tag, err)
				message = "payment service unavailable, please try again later"
			}
			return fail(c, e.status, message)
		}
	}

	log.Printf("[%s] Unexpected error: %v", tag, err)
	return fail(c, fiber.StatusInternalServerError, "internal server error")
}

// bindBody decodes and validates the JSON body into dst and returns a client
// message when the body is unusable. An empty body is accepted when allowEmpty is set.
func bindBody(c *fiber.Ctx, dst interface{}, allowEmpty bool) string {
	if len(c.Body()) == 0 {
		if !allowEmpty {
			return "request body is required"
		}
	} else if err := c.BodyParser(dst); err != nil {
		return "invalid request body"
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
			}
			return "invalid fields: " + strings.Join(fields, ", ")
		}
		return "invalid request body"
	}
	return ""
}

func currentUser(c *fiber.Ctx) (string, bool) {
	userID, ok := c.Locals("userID").(string)
	return userID, ok && userID != ""
}
