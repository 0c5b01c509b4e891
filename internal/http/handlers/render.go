package handlers

import (
	"errors"

	"sonar/internal/domain"
	applog "sonar/internal/log"

	"github.com/gofiber/fiber/v2"
)

var kindStatus = map[domain.Kind]int{
	domain.KindValidation:  fiber.StatusBadRequest,
	domain.KindAuth:        fiber.StatusUnauthorized,
	domain.KindNotFound:    fiber.StatusNotFound,
	domain.KindQuery:       fiber.StatusBadGateway,
	domain.KindPersistence: fiber.StatusBadGateway,
	domain.KindStorage:     fiber.StatusBadGateway,
}

var kindMessage = map[domain.Kind]string{
	domain.KindAuth:        "Invalid email or password",
	domain.KindNotFound:    "This item is no longer available",
	domain.KindQuery:       "Could not load data. Please try again.",
	domain.KindPersistence: "Could not save changes. Please try again.",
	domain.KindStorage:     "Could not store the image. Please try again.",
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ErrorHandler turns handler errors into JSON without leaking internals.
// Validation errors keep their message since it describes the input.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(errorBody{Error: "request", Message: fe.Message})
	}
	var de *domain.Error
	if errors.As(err, &de) {
		status, ok := kindStatus[de.Kind]
		if !ok {
			status = fiber.StatusInternalServerError
		}
		msg := kindMessage[de.Kind]
		if de.Kind == domain.KindValidation {
			msg = de.Msg
			if de.Err != nil {
				msg = de.Err.Error()
			}
		}
		if status >= fiber.StatusInternalServerError {
			applog.Error(c, "server.error", err, nil)
		}
		return c.Status(status).JSON(errorBody{Error: string(de.Kind), Message: msg})
	}
	applog.Error(c, "server.error", err, nil)
	return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "internal", Message: "Something went wrong. Please try again."})
}

func badRequest(c *fiber.Ctx, field string) error {
	applog.Security(c, "validation.fail", map[string]any{"field": field})
	return fiber.NewError(fiber.StatusBadRequest, "Invalid "+field)
}
