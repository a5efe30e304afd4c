package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/domain"
)

const ownerContextKey = "taskboard.owner"

// Register wires up all API routes on the provided Echo instance. deduper
// may be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, tasks Tasks, auth Authenticator, deduper Deduper, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	e.GET("/healthz", healthz())

	g := e.Group("/api", RequestMetrics(logger), GzipRequestMiddleware(), authenticate(auth))
	g.GET("/tasks", listTasks(tasks))
	g.GET("/tasks/summary", getSummary(tasks))
	g.GET("/tasks/:id", getTask(tasks))
	g.POST("/tasks", createTask(tasks, deduper, logger))
	g.PUT("/tasks/:id", updateTask(tasks))
	g.DELETE("/tasks/:id", deleteTask(tasks))
	g.PATCH("/tasks/:id", moveTask(tasks))
	g.POST("/tasks/:id/advance", advanceTask(tasks))
	g.POST("/tasks/:id/reorder", reorderTask(tasks))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

// authenticate resolves the caller from the bearer token. A userID query
// parameter naming someone else is refused.
func authenticate(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m := metricsFrom(c)
			start := time.Now()
			userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			m.ObserveAuth(time.Since(start))
			if err != nil {
				m.SetErrorStage("auth")
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
			}
			if q := c.QueryParam("userID"); q != "" && q != userID {
				return forbidden(c)
			}
			c.Set(ownerContextKey, userID)
			return next(c)
		}
	}
}

func forbidden(c echo.Context) error {
	metricsFrom(c).SetErrorStage("forbidden")
	return c.JSON(http.StatusForbidden, errorResponse{Error: "userID does not match the authenticated user"})
}

func ownerOf(c echo.Context) string {
	owner, _ := c.Get(ownerContextKey).(string)
	return owner
}

// call runs fn against the request context and records its duration.
func call[T any](c echo.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, err := fn(c.Request().Context())
	metricsFrom(c).ObserveService(time.Since(start))
	return out, err
}

func badBody(c echo.Context, err error) error {
	metricsFrom(c).SetErrorStage("invalid_body")
	return writeError(c, err)
}

func listTasks(svc Tasks) echo.HandlerFunc {
	return func(c echo.Context) error {
		out, err := call(c, func(ctx context.Context) ([]domain.Task, error) {
			return svc.ListTasks(ctx, ownerOf(c))
		})
		if err != nil {
			return writeError(c, err)
		}
		if out == nil {
			out = []domain.Task{}
		}
		metricsFrom(c).SetTasksReturned(len(out))
		return c.JSON(http.StatusOK, out)
	}
}

func getTask(svc Tasks) echo.HandlerFunc {
	return func(c echo.Context) error {
		out, err := call(c, func(ctx context.Context) (domain.Task, error) {
			return svc.GetTask(ctx, ownerOf(c), c.Param("id"))
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, out)
	}
}

func getSummary(svc Tasks) echo.HandlerFunc {
	return func(c echo.Context) error {
		out, err := call(c, func(ctx context.Context) (domain.Summary, error) {
			return svc.Summary(ctx, ownerOf(c))
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, out)
	}
}

func createTask(svc Tasks, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createTaskRequest
		if err := decodeBody(c.Request().Body, "create-task", &req); err != nil {
			return badBody(c, err)
		}
		owner := ownerOf(c)
		if req.UserID != "" && req.UserID != owner {
			return forbidden(c)
		}

		key := c.Request().Header.Get(headerIdempotencyKey)
		if key != "" && deduper != nil {
			ctx := c.Request().Context()
			existing, reserved, err := deduper.Reserve(ctx, owner, key)
			switch {
			case err != nil:
				logger.WithFields(log.Fields{"user": owner, "error": err}).Warn("idempotency reservation failed; creating without it")
				key = ""
			case !reserved && existing == "":
				metricsFrom(c).SetErrorStage("duplicate_pending")
				return c.JSON(http.StatusConflict, errorResponse{Error: "request with this Idempotency-Key is in progress"})
			case !reserved:
				task, gerr := svc.GetTask(ctx, owner, existing)
				if gerr != nil {
					return writeError(c, gerr)
				}
				return c.JSON(http.StatusOK, task)
			}
		} else {
			key = ""
		}

		fields := domain.TaskFields{Name: req.Name, Priority: domain.Priority(req.Priority), Deadline: req.Deadline}
		task, err := call(c, func(ctx context.Context) (domain.Task, error) {
			return svc.CreateTask(ctx, owner, fields)
		})
		if key != "" {
			// the request context may already be gone; the key must not stay pending
			bg, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			var derr error
			if err != nil {
				derr = deduper.Release(bg, owner, key)
			} else {
				derr = deduper.Complete(bg, owner, key, task.ID)
			}
			cancel()
			if derr != nil {
				logger.WithFields(log.Fields{"user": owner, "error": derr}).Warn("idempotency bookkeeping failed")
			}
		}
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func updateTask(svc Tasks) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req updateTaskRequest
		if err := decodeBody(c.Request().Body, "update-task", &req); err != nil {
			return badBody(c, err)
		}
		owner := ownerOf(c)
		if req.UserID != "" && req.UserID != owner {
			return forbidden(c)
		}
		fields := domain.TaskFields{Name: req.Name, Priority: domain.Priority(req.Priority), Deadline: req.Deadline}
		task, err := call(c, func(ctx context.Context) (domain.Task, error) {
			return svc.UpdateTask(ctx, owner, c.Param("id"), fields)
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(svc Tasks) echo.HandlerFunc {
	return func(c echo.Context) error {
		_, err := call(c, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, svc.DeleteTask(ctx, ownerOf(c), c.Param("id"))
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func moveTask(svc Tasks) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req moveTaskRequest
		if err := decodeBody(c.Request().Body, "move-task", &req); err != nil {
			return badBody(c, err)
		}
		task, err := call(c, func(ctx context.Context) (domain.Task, error) {
			return svc.MoveTask(ctx, ownerOf(c), c.Param("id"), domain.Stage(req.Stage))
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func advanceTask(svc Tasks) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req advanceTaskRequest
		if err := decodeBody(c.Request().Body, "advance-task", &req); err != nil {
			return badBody(c, err)
		}
		task, err := call(c, func(ctx context.Context) (domain.Task, error) {
			return svc.AdvanceTask(ctx, ownerOf(c), c.Param("id"), domain.Direction(req.Direction))
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func reorderTask(svc Tasks) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req reorderTaskRequest
		if err := decodeBody(c.Request().Body, "reorder-task", &req); err != nil {
			return badBody(c, err)
		}
		owner, id, stage := ownerOf(c), c.Param("id"), domain.Stage(req.Stage)

		task, err := call(c, func(ctx context.Context) (domain.Task, error) {
			if req.SourceIndex != nil {
				return svc.ReorderTaskFrom(ctx, owner, id, stage, *req.SourceIndex, req.DestinationIndex)
			}
			return svc.ReorderTask(ctx, owner, id, stage, req.DestinationIndex)
		})
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}
