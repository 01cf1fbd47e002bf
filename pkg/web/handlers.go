// Package web provides HTTP handlers and REST API endpoints for request
// management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/approvia/approvia/pkg/config"
	"github.com/approvia/approvia/pkg/engine"
	"github.com/approvia/approvia/pkg/models"
	"github.com/approvia/approvia/pkg/persistence"
)

type APIHandlers struct {
	engine    *engine.Engine
	chains    config.ChainStore
	store     persistence.Persistence
	validator *validator.Validate
}

func NewAPIHandlers(
	eng *engine.Engine,
	chains config.ChainStore,
	store persistence.Persistence,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:    eng,
		chains:    chains,
		store:     store,
		validator: validate,
	}
}

func (h *APIHandlers) CreateRequest(c fiber.Ctx) error {
	var body CreateRequestBody
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	request, err := h.engine.CreateRequest(c.Context(), body.ChainID, body.BusinessUnitID, body.InitiatorID, body.Data)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(request)
}

func (h *APIHandlers) GetRequest(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	request, err := h.engine.GetRequest(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) ListRequests(c fiber.Ctx) error {
	filter, err := h.parseRequestFilter(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	requests, err := h.engine.ListRequests(c.Context(), *filter)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"requests": requests,
		"count":    len(requests),
		"pagination": fiber.Map{
			"limit":  filter.Limit,
			"offset": filter.Offset,
		},
	})
}

func (h *APIHandlers) parseRequestFilter(c fiber.Ctx) (*persistence.RequestFilter, error) {
	filter := &persistence.RequestFilter{
		ChainID:        c.Query("chain_id"),
		BusinessUnitID: c.Query("business_unit_id"),
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.RequestStatus(statusStr)
		filter.Status = &status
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		filter.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		filter.Offset = offset
	}

	return filter, nil
}

func (h *APIHandlers) UpdateRequestData(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	var body UpdateDataBody
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	request, err := h.engine.UpdateRequestData(c.Context(), id, body.ActorID, body.Data)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) SubmitRequest(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	var body SubmitRequestBody
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	request, err := h.engine.SubmitRequest(c.Context(), id, body.ActorID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) ActOnRequest(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	var body ActionBody
	if err := c.Bind().JSON(&body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(body); err != nil {
		return badRequest(c, err.Error())
	}

	action := models.Action{
		Kind:    models.ActionKind(body.Kind),
		ActorID: body.ActorID,
		Comment: body.Comment,
	}

	request, err := h.engine.Act(c.Context(), id, action)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(request)
}

func (h *APIHandlers) GetProgress(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	progress, err := h.engine.Progress(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(progress)
}

func (h *APIHandlers) GetRequestChain(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	entries, err := h.engine.RequestChain(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"requests": entries})
}

func (h *APIHandlers) GetHistory(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Request ID is required")
	}

	history, err := h.engine.History(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"history": history})
}

func (h *APIHandlers) GetPending(c fiber.Ctx) error {
	userID := c.Query("user_id")
	if userID == "" {
		return badRequest(c, "user_id query parameter is required")
	}

	pending, err := h.engine.PendingFor(c.Context(), userID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{"requests": pending})
}

func (h *APIHandlers) GetChain(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Chain ID is required")
	}

	chain, err := h.chains.Chain(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(chain)
}

func (h *APIHandlers) CreateChain(c fiber.Ctx) error {
	var chain models.Chain
	if err := c.Bind().JSON(&chain); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := config.ValidateChain(&chain); err != nil {
		return badRequest(c, err.Error())
	}

	stored, err := h.chains.PutChain(c.Context(), &chain)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(stored)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	storeErr := h.store.HealthCheck(c.Context())

	status := "healthy"
	message := "Approvia API is healthy"
	httpStatus := http.StatusOK

	if storeErr != nil {
		status = "unhealthy"
		message = "Approvia API is unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC(),
	})
}
