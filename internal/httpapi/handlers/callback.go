package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nasa/harmony-workflow-core/internal/apierr"
	"github.com/nasa/harmony-workflow-core/internal/callback"
	"github.com/nasa/harmony-workflow-core/internal/httpapi/response"
	"github.com/nasa/harmony-workflow-core/internal/logger"
)

// CallbackHandler binds the §4.8 legacy callback ingress to
// POST /<jobID>/response, accepting either query-string or JSON-body
// forms, or a raw streamed content body with a filename query param.
type CallbackHandler struct {
	ingress *callback.Ingress
	log     *logger.Logger
}

func NewCallbackHandler(ingress *callback.Ingress, baseLog *logger.Logger) *CallbackHandler {
	return &CallbackHandler{ingress: ingress, log: baseLog.With("handler", "CallbackHandler")}
}

func (h *CallbackHandler) Respond(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("jobID"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}

	var workItemID *uint64
	if raw := c.Query("workItemID"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_work_item_id", err)
			return
		}
		workItemID = &id
	}

	p, err := parsePayload(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_callback_payload", err)
		return
	}

	if err := h.ingress.Handle(c.Request.Context(), jobID, workItemID, p); err != nil {
		status := http.StatusInternalServerError
		switch {
		case apierr.IsValidation(err):
			status = http.StatusBadRequest
		case apierr.IsConflict(err):
			status = http.StatusConflict
		}
		response.RespondError(c, status, "callback_failed", err)
		return
	}
	response.RespondNoContent(c)
}

// parsePayload merges the query-string form with a JSON body when present,
// falling back to treating a non-JSON body as a streamed content result
// (§4.8: "a POST body without redirect/error is treated as a file
// result").
func parsePayload(c *gin.Context) (callback.Payload, error) {
	p := callback.Payload{
		Error:    c.Query("error"),
		Status:   c.Query("status"),
		Redirect: c.Query("redirect"),
	}
	if raw := c.Query("progress"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return p, err
		}
		p.Progress = &v
	}
	if raw := c.Query("bbox"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return p, err
			}
			p.BBox = append(p.BBox, v)
		}
	}
	if raw := c.Query("temporal"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			p.Temporal = append(p.Temporal, strings.TrimSpace(part))
		}
	}

	contentType := c.ContentType()
	switch {
	case contentType == "application/json":
		var body callback.Payload
		if err := json.NewDecoder(c.Request.Body).Decode(&body); err != nil {
			return p, err
		}
		mergeQueryAndBody(&p, body)
	case p.Error == "" && p.Status == "" && p.Redirect == "" && c.Request.ContentLength != 0:
		p.ContentType = contentType
		p.ContentBody = c.Request.Body
		p.Filename = c.Query("item")
		if p.Filename == "" {
			p.Filename = "result"
		}
	}
	return p, nil
}

func mergeQueryAndBody(p *callback.Payload, body callback.Payload) {
	if p.Error == "" {
		p.Error = body.Error
	}
	if p.Status == "" {
		p.Status = body.Status
	}
	if p.Redirect == "" {
		p.Redirect = body.Redirect
	}
	if p.Progress == nil {
		p.Progress = body.Progress
	}
	if len(p.BBox) == 0 {
		p.BBox = body.BBox
	}
	if len(p.Temporal) == 0 {
		p.Temporal = body.Temporal
	}
}
