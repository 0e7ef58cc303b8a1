package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/loomhq/loom/pkg/execution"
	"github.com/loomhq/loom/pkg/operations"
	"github.com/loomhq/loom/pkg/persistence"
	"github.com/loomhq/loom/pkg/session"
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

// handleSessionError maps session and engine errors onto problem responses:
// lock conflicts are 409 with the holder's identity, engine validation
// failures are 400 except for missing targets which are 404.
func handleSessionError(c fiber.Ctx, err error) error {
	var locked *session.LockedError

	switch {
	case errors.As(err, &locked):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("locked").
			WithDetail(locked.Error())

		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"type":      problem.Type,
			"title":     problem.Title,
			"status":    problem.Status,
			"detail":    problem.Detail,
			"instance":  problem.Instance,
			"locked_by": locked.HolderID,
			"node_id":   locked.NodeID,
		})

	case errors.Is(err, operations.ErrNodeNotFound),
		errors.Is(err, operations.ErrNodesNotFound),
		errors.Is(err, operations.ErrConnectionNotFound):
		return notFound(c, err.Error())

	case operations.IsValidationError(err):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("validation_error").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case persistence.IsDraftNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("draft_not_found").
			WithDetail("workflow draft not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case persistence.IsExecutionNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("execution_not_found").
			WithDetail("execution not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case errors.Is(err, execution.ErrStartFailed):
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("start_failed").
			WithDetail(err.Error())

		return c.Status(fiber.StatusInternalServerError).JSON(problem)

	default:
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
