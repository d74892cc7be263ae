package api

import (
	"github.com/gofiber/fiber/v2"

	"policypilot/app/agent"
	"policypilot/retrieve"
)

type CheckHandler struct {
	retriever *retrieve.Retriever
	reasoner  *agent.Reasoner
}

func NewCheckHandler(retriever *retrieve.Retriever, reasoner *agent.Reasoner) *CheckHandler {
	return &CheckHandler{retriever: retriever, reasoner: reasoner}
}

// HandleHealthy reports per-component readiness. A retriever without indexed
// content is healthy but marked no_index so callers can tell "nothing
// ingested yet" from "broken".
func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	retrieverState := "ready"
	if !h.retriever.Ready() {
		retrieverState = "no_index"
	}
	reasonerState := "ready"
	if h.reasoner == nil {
		reasonerState = "disabled"
	}

	return c.JSON(fiber.Map{
		"result": "ok",
		"components": fiber.Map{
			"retriever": retrieverState,
			"reasoner":  reasonerState,
		},
		"indexed_chunks": h.retriever.IndexSize(),
	})
}
