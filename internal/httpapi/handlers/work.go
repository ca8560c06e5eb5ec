package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nasa/harmony-workflow-core/internal/domain"
	"github.com/nasa/harmony-workflow-core/internal/httpapi/response"
	"github.com/nasa/harmony-workflow-core/internal/logger"
	"github.com/nasa/harmony-workflow-core/internal/queue"
	"github.com/nasa/harmony-workflow-core/internal/scheduler"
	"github.com/nasa/harmony-workflow-core/internal/updateprocessor"
)

// WorkHandler implements §6's worker-facing HTTP surface: GET /work hands
// out a claimed item, PUT /work/<id> enqueues its result for async
// processing.
type WorkHandler struct {
	sched   *scheduler.Scheduler
	updates queue.UpdateQueue
	log     *logger.Logger
}

func NewWorkHandler(sched *scheduler.Scheduler, updates queue.UpdateQueue, baseLog *logger.Logger) *WorkHandler {
	return &WorkHandler{sched: sched, updates: updates, log: baseLog.With("handler", "WorkHandler")}
}

// GET /work?serviceID=<id>
func (h *WorkHandler) GetWork(c *gin.Context) {
	serviceID := c.Query("serviceID")
	if serviceID == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_service_id", nil)
		return
	}
	assignments, err := h.sched.Assign(c.Request.Context(), serviceID, 1)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "assign_failed", err)
		return
	}
	if len(assignments) == 0 {
		c.Status(http.StatusNotFound)
		return
	}
	a := assignments[0]
	response.RespondOK(c, gin.H{
		"workItem":      a.WorkItem,
		"operation":     json.RawMessage(a.OperationJSON),
		"stagingPrefix": a.StagingPrefix,
	})
}

// workItemUpdateReq mirrors the on-queue update message's inner "update"
// object (§6).
type workItemUpdateReq struct {
	Status            domain.WorkItemStatus `json:"status"`
	Message           string                `json:"message"`
	MessageCategory   string                `json:"messageCategory"`
	Hits              *int                  `json:"hits"`
	Results           []string              `json:"results"`
	OutputItemSizes   []int64               `json:"outputItemSizes"`
	TotalItemsSize    *int64                `json:"totalItemsSize"`
	Duration          int64                 `json:"duration"`
	WorkflowStepIndex int                   `json:"workflowStepIndex"`
	ScrollID          string                `json:"scrollID"`
}

// PUT /work/<id>
func (h *WorkHandler) PutWork(c *gin.Context) {
	idStr := c.Param("id")
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_work_item_id", err)
		return
	}
	var req workItemUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	u := updateprocessor.Update{
		WorkItemID:        id,
		Status:            req.Status,
		Message:           req.Message,
		MessageCategory:   req.MessageCategory,
		Hits:              req.Hits,
		Results:           req.Results,
		OutputItemSizes:   req.OutputItemSizes,
		TotalItemsSize:    req.TotalItemsSize,
		Duration:          req.Duration,
		WorkflowStepIndex: req.WorkflowStepIndex,
		ScrollID:          req.ScrollID,
	}
	payload, err := json.Marshal(u)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "encode_failed", err)
		return
	}

	sev := queue.Small
	if len(req.Results) > 0 {
		sev = queue.Large
	}
	if err := h.updates.Enqueue(c.Request.Context(), sev, payload); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	response.RespondNoContent(c)
}
