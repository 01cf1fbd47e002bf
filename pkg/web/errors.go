package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/approvia/approvia/pkg/config"
	"github.com/approvia/approvia/pkg/engine"
	"github.com/approvia/approvia/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps engine and storage errors onto problem responses.
// Authorization failures are 403, ordering and state violations 409, unknown
// ids 404; anything unexpected stays a 500 without leaking details.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, engine.ErrUnauthorized), errors.Is(err, engine.ErrNotInitiator):
		problem := problems.NewStatusProblem(403).
			WithInstance(c.Path()).
			WithType("forbidden").
			WithDetail(err.Error())

		return c.Status(fiber.StatusForbidden).JSON(problem)

	case errors.Is(err, engine.ErrOutOfOrderApproval):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("out_of_order_approval").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, engine.ErrInvalidTransition):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("invalid_transition").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, engine.ErrUnknownAction):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("unknown_action").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case engine.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail("the request was modified concurrently, retry the action")

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, persistence.ErrRequestNotFound):
		return notFound(c, "request not found")

	case errors.Is(err, config.ErrChainNotFound), errors.Is(err, config.ErrSectionNotFound):
		return notFound(c, "chain not found")

	case config.IsConfigurationError(err):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("configuration_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	default:
		return internalError(c, err)
	}
}
