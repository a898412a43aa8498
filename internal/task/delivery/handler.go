package delivery

import (
	"errors"
	"net/http"
	"strconv"

	"mailsync-backend/internal/task/domain"
	"mailsync-backend/internal/task/usecase"

	"github.com/gin-gonic/gin"
)

type TaskHandler struct {
	taskUsecase usecase.TaskUsecase
}

func NewTaskHandler(taskUsecase usecase.TaskUsecase) *TaskHandler {
	return &TaskHandler{
		taskUsecase: taskUsecase,
	}
}

type CreateTaskRequest struct {
	Title       string  `json:"title" binding:"required"`
	Description string  `json:"description"`
	DueDate     *string `json:"due_date"`
	Priority    string  `json:"priority"`
	ReminderAt  *string `json:"reminder_at"`
}

func (r CreateTaskRequest) input() usecase.TaskInput {
	return usecase.TaskInput{
		Title:       r.Title,
		Description: r.Description,
		DueDate:     r.DueDate,
		Priority:    r.Priority,
		ReminderAt:  r.ReminderAt,
	}
}

// GET /api/tasks?status=pending&limit=50&offset=0
func (h *TaskHandler) GetTasks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	tasks, total, err := h.taskUsecase.GetUserTasks(c.Request.Context(), c.GetString("userID"), c.Query("status"), limit, offset)
	if err != nil {
		writeTaskError(c, err)
		return
	}
	if tasks == nil {
		tasks = []*domain.Task{}
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": total,
	})
}

// GET /api/tasks/:id
func (h *TaskHandler) GetTaskByID(c *gin.Context) {
	task, err := h.taskUsecase.GetTaskByID(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if err != nil {
		writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

// POST /api/tasks
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.taskUsecase.CreateTask(c.Request.Context(), c.GetString("userID"), req.input())
	if err != nil {
		writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

// POST /api/tasks/from-email/:emailId
// The body is optional; title and description default to the message's
// subject and snippet.
func (h *TaskHandler) CreateTaskFromEmail(c *gin.Context) {
	var input usecase.TaskInput
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	task, err := h.taskUsecase.CreateTaskFromEmail(c.Request.Context(), c.GetString("userID"), c.Param("emailId"), input)
	if err != nil {
		writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusCreated, task)
}

// PUT /api/tasks/:id
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	var updates usecase.TaskUpdateRequest
	if err := c.ShouldBindJSON(&updates); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.taskUsecase.UpdateTask(c.Request.Context(), c.GetString("userID"), c.Param("id"), updates)
	if err != nil {
		writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

// PATCH /api/tasks/:id/status
func (h *TaskHandler) UpdateTaskStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.taskUsecase.UpdateTask(c.Request.Context(), c.GetString("userID"), c.Param("id"), usecase.TaskUpdateRequest{
		Status: &req.Status,
	})
	if err != nil {
		writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

// DELETE /api/tasks/:id
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	if err := h.taskUsecase.DeleteTask(c.Request.Context(), c.GetString("userID"), c.Param("id")); err != nil {
		writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "task deleted"})
}

func writeTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
