package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/agentmesh/agentmesh/pkg/models"
	"github.com/agentmesh/agentmesh/pkg/scheduler"
	"github.com/agentmesh/agentmesh/pkg/store"
)

// submitTaskHandler handles POST /api/v1/tasks/submit.
func (s *Server) submitTaskHandler(c *echo.Context) error {
	var req SubmitTaskRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}

	task, err := s.scheduler.SubmitTask(c.Request().Context(), scheduler.SubmitRequest{
		Description:  req.Description,
		Priority:     req.Priority,
		Deadline:     req.Deadline,
		Input:        req.Context,
		AgentType:    models.AgentType(req.AgentType),
		AgentID:      req.AgentID,
		ParentTaskID: req.ParentTaskID,
		TraceID:      traceID(c),
	})
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// listTasksHandler handles GET /api/v1/tasks.
func (s *Server) listTasksHandler(c *echo.Context) error {
	f := store.TaskFilter{Page: 1, PageSize: 50}
	if v := c.QueryParam("status"); v != "" {
		if !models.ValidTaskStatus(v) {
			return badRequest(c, "invalid status: "+v)
		}
		f.Status = models.TaskStatus(v)
	}
	if v := c.QueryParam("agent_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid agent_id: must be a UUID")
		}
		f.AgentID = &id
	}
	if v := c.QueryParam("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			f.Page = p
		}
	}
	if v := c.QueryParam("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= 100 {
			f.PageSize = ps
		}
	}

	list, total, err := s.scheduler.ListTasks(c.Request().Context(), f)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, &TaskListResponse{
		Tasks:    list,
		Total:    total,
		Page:     f.Page,
		PageSize: f.PageSize,
	})
}

// getTaskHandler handles GET /api/v1/tasks/:id.
func (s *Server) getTaskHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	task, err := s.scheduler.GetTask(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// taskStatusHandler handles GET /api/v1/tasks/:id/status.
func (s *Server) taskStatusHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	info, err := s.scheduler.GetTaskStatus(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// updateTaskHandler handles PATCH /api/v1/tasks/:id. External executors use
// it to report progress or a terminal outcome.
func (s *Server) updateTaskHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req UpdateTaskRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}

	ctx := c.Request().Context()
	switch {
	case req.Status == string(models.TaskStatusCompleted):
		if _, err := s.scheduler.CompleteTask(ctx, id, req.Result); err != nil {
			return mapServiceError(c, err)
		}
	case req.Status == string(models.TaskStatusFailed):
		retry := true
		if req.Retry != nil {
			retry = *req.Retry
		}
		if err := s.scheduler.FailTask(ctx, id, req.Error, retry); err != nil {
			return mapServiceError(c, err)
		}
	case req.Status == string(models.TaskStatusInProgress):
		if err := s.scheduler.StartTask(ctx, id); err != nil {
			return mapServiceError(c, err)
		}
	case req.Status != "":
		return badRequest(c, "status must be in_progress, completed, or failed")
	case req.Progress != nil:
		if err := s.scheduler.ReportProgress(ctx, id, *req.Progress, req.Message); err != nil {
			return mapServiceError(c, err)
		}
	default:
		return badRequest(c, "nothing to update: provide status or progress")
	}

	task, err := s.scheduler.GetTask(ctx, id)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, task)
}

// cancelTaskHandler handles POST /api/v1/tasks/:id/cancel.
func (s *Server) cancelTaskHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	cancelled, err := s.scheduler.CancelTask(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	resp := &CancelResponse{TaskID: id, Status: string(models.TaskStatusCancelled)}
	if !cancelled {
		resp.Message = "task already terminal"
	}
	return c.JSON(http.StatusOK, resp)
}

// addDependencyHandler handles POST /api/v1/tasks/:id/dependencies.
func (s *Server) addDependencyHandler(c *echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}
	var req AddDependencyRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, err.Error())
	}
	if req.DependsOnTaskID == uuid.Nil {
		return badRequest(c, "depends_on_task_id is required")
	}

	if err := s.scheduler.AddDependency(c.Request().Context(), id, req.DependsOnTaskID); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"task_id":    id.String(),
		"depends_on": req.DependsOnTaskID.String(),
		"status":     "added",
	})
}
