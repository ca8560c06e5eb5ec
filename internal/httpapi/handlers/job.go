package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nasa/harmony-workflow-core/internal/httpapi/response"
	"github.com/nasa/harmony-workflow-core/internal/logger"
	"github.com/nasa/harmony-workflow-core/internal/store"
)

// JobHandler is the supplemental read surface (§12 Supplemented): the
// spec's bit-exact contract only names the worker-facing endpoints, but a
// complete service needs a way to inspect job state without querying the
// database directly.
type JobHandler struct {
	jobs     store.JobRepo
	steps    store.WorkflowStepRepo
	links    store.JobLinkRepo
	messages store.JobMessageRepo
	log      *logger.Logger
}

func NewJobHandler(jobs store.JobRepo, steps store.WorkflowStepRepo, links store.JobLinkRepo, messages store.JobMessageRepo, baseLog *logger.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, steps: steps, links: links, messages: messages, log: baseLog.With("handler", "JobHandler")}
}

type jobDetail struct {
	Job      any `json:"job"`
	Steps    any `json:"steps"`
	Links    any `json:"links"`
	Messages any `json:"messages"`
}

// GET /jobs/:jobID
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("jobID"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	ctx := c.Request.Context()

	job, err := h.jobs.GetByID(ctx, nil, jobID)
	if err != nil {
		if err == store.ErrJobNotFound {
			c.Status(http.StatusNotFound)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "get_job_failed", err)
		return
	}
	steps, err := h.steps.ListForJob(ctx, nil, jobID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_steps_failed", err)
		return
	}
	links, err := h.links.ListForJob(ctx, nil, jobID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_links_failed", err)
		return
	}
	messages, err := h.messages.ListForJob(ctx, nil, jobID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_messages_failed", err)
		return
	}

	response.RespondOK(c, jobDetail{Job: job, Steps: steps, Links: links, Messages: messages})
}
