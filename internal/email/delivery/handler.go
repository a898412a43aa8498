package delivery

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"
	emaildto "mailsync-backend/internal/email/dto"
	"mailsync-backend/internal/email/repository"
	"mailsync-backend/internal/email/usecase"
	"mailsync-backend/pkg/gmail"
	"mailsync-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type EmailHandler struct {
	syncUsecase usecase.SyncUsecase
	syncEvery   time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewEmailHandler serves the local mirror. Manual syncs are limited to one
// per syncEvery per user; zero disables the limit.
func NewEmailHandler(syncUsecase usecase.SyncUsecase, syncEvery time.Duration) *EmailHandler {
	return &EmailHandler{
		syncUsecase: syncUsecase,
		syncEvery:   syncEvery,
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (h *EmailHandler) allow(userID string) bool {
	if h.syncEvery <= 0 {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Every(h.syncEvery), 1)
		h.limiters[userID] = l
	}
	return l.Allow()
}

func (h *EmailHandler) TriggerSync(c *gin.Context) {
	userID := c.GetString("userID")

	var req emaildto.SyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if !h.allow(userID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "sync requested too often, try again later"})
		return
	}

	var (
		result *emaildomain.SyncResult
		err    error
	)
	if req.Full {
		result, err = h.syncUsecase.SyncMessages(c.Request.Context(), userID, emaildomain.SyncOptions{
			MaxMessages: req.MaxMessages,
			Query:       req.Query,
		})
	} else {
		result, err = h.syncUsecase.IncrementalSync(c.Request.Context(), userID, req.MaxMessages)
	}
	if err != nil {
		writeSyncError(c, err)
		return
	}

	c.JSON(http.StatusOK, emaildto.SyncResponse{Result: result})
}

func (h *EmailHandler) GetSyncStatus(c *gin.Context) {
	states, err := h.syncUsecase.GetSyncStatus(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if states == nil {
		states = []*emaildomain.SyncState{}
	}
	c.JSON(http.StatusOK, emaildto.SyncStatusResponse{Accounts: states})
}

func (h *EmailHandler) GetEmails(c *gin.Context) {
	limit, offset := pagination(c)

	emails, total, err := h.syncUsecase.ListMessages(c.Request.Context(), c.GetString("userID"), repository.MessageQuery{
		AccountEmail: c.Query("account"),
		LabelID:      c.Query("label"),
		ThreadID:     c.Query("thread_id"),
		UnreadOnly:   c.Query("unread") == "true",
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if emails == nil {
		emails = []*emaildomain.Message{}
	}

	c.JSON(http.StatusOK, emaildto.EmailsResponse{
		Emails: emails,
		Limit:  limit,
		Offset: offset,
		Total:  total,
	})
}

func (h *EmailHandler) GetEmailByID(c *gin.Context) {
	msg, atts, err := h.syncUsecase.GetMessage(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if msg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "email not found"})
		return
	}
	if atts == nil {
		atts = []*emaildomain.Attachment{}
	}

	c.JSON(http.StatusOK, emaildto.EmailDetailResponse{Message: msg, Attachments: atts})
}

func (h *EmailHandler) GetThreads(c *gin.Context) {
	limit, offset := pagination(c)

	threads, total, err := h.syncUsecase.ListThreads(c.Request.Context(), c.GetString("userID"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if threads == nil {
		threads = []*emaildomain.Thread{}
	}

	c.JSON(http.StatusOK, emaildto.ThreadsResponse{
		Threads: threads,
		Limit:   limit,
		Offset:  offset,
		Total:   total,
	})
}

func pagination(c *gin.Context) (int, int) {
	limit := 20
	offset := 0

	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func writeSyncError(c *gin.Context, err error) {
	var apiErr *gmail.APIError
	switch {
	case errors.Is(err, emaildomain.ErrSyncInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case usecase.IsAuthFailure(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "google account must be re-linked", "detail": err.Error()})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "retryable": apiErr.Retryable()})
	default:
		logger.With("email-handler").Error().Err(err).Str("user_id", c.GetString("userID")).Msg("sync failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed"})
	}
}
