package router

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"prize_wheel/internal/auth"
	"prize_wheel/internal/notify"
	"prize_wheel/internal/wheel"
	rediskey "prize_wheel/pkg/redis"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// writeError 把领域错误映射为 HTTP 状态码。
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, wheel.ErrPrizeNotFound),
		errors.Is(err, wheel.ErrCodeNotFound),
		errors.Is(err, wheel.ErrWinnerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, wheel.ErrInvalidPrize),
		errors.Is(err, wheel.ErrInvalidQuantity),
		errors.Is(err, wheel.ErrInvalidIssue):
		status = http.StatusBadRequest
	case errors.Is(err, wheel.ErrPrizeHasWinners),
		errors.Is(err, wheel.ErrCodeUsed),
		errors.Is(err, wheel.ErrReversalConflict):
		status = http.StatusConflict
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.S().Errorw("admin request failed", "path", c.FullPath(), "error", err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"code": status, "msg": msg})
}

// paramID 解析路径中的 :id。
func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func login(m *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "password is required"})
			return
		}
		token, exp, err := m.Login(req.Password)
		switch {
		case errors.Is(err, auth.ErrNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{"code": 503, "msg": err.Error()})
			return
		case errors.Is(err, auth.ErrInvalidPassword):
			zap.S().Warnw("admin login failed", "ip", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "invalid password"})
			return
		case err != nil:
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{"token": token, "expires_at": exp.UTC().Format(time.RFC3339)}})
	}
}

type prizeRequest struct {
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description"`
	ImageURL      string `json:"imageUrl"`
	QuantityTotal int    `json:"quantity_total" binding:"required,min=1"`
	Weight        int    `json:"weight" binding:"required,min=1"`
}

func (r prizeRequest) input() wheel.PrizeInput {
	return wheel.PrizeInput{
		Title:         r.Title,
		Description:   r.Description,
		ImageURL:      r.ImageURL,
		QuantityTotal: r.QuantityTotal,
		Weight:        r.Weight,
	}
}

func listPrizes(svc *wheel.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.ListPrizes(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

func createPrize(svc *wheel.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req prizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		p, err := svc.CreatePrize(c.Request.Context(), req.input())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"code": 0, "data": p})
	}
}

func updatePrize(svc *wheel.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		var req prizeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		p, err := svc.UpdatePrize(c.Request.Context(), id, req.input())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": p})
	}
}

func deletePrize(svc *wheel.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		if err := svc.DeletePrize(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "deleted"})
	}
}

func listCodes(svc *wheel.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var used *bool
		if v := c.Query("used"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "used must be true or false"})
				return
			}
			used = &b
		}
		list, err := svc.ListCodes(c.Request.Context(), used)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// generateCodes 批量发码。邮件逐封同步发送，响应里是准确的成功/失败计数。
func generateCodes(svc *wheel.Service, notifier wheel.IssueNotifier, pacing time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Quantity int    `json:"quantity" binding:"required"`
			Names    string `json:"names"`
			Emails   string `json:"emails"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		report, err := svc.IssueCodes(c.Request.Context(), wheel.IssueRequest{
			Quantity: req.Quantity,
			Names:    wheel.SplitLines(req.Names),
			Emails:   wheel.SplitLines(req.Emails),
		}, notifier, pacing)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": report})
	}
}

func updateCode(svc *wheel.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		var req struct {
			Name  string `json:"name"`
			Email string `json:"email" binding:"omitempty,email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		code, err := svc.UpdateCode(c.Request.Context(), id, req.Name, req.Email)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": code})
	}
}

func deleteCode(svc *wheel.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		if err := svc.DeleteCode(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "deleted"})
	}
}

func listWinners(svc *wheel.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.ListWinners(c.Request.Context(), 0)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

func updateWinner(svc *wheel.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		var req struct {
			PrizeSent *bool   `json:"prize_sent"`
			Notes     *string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": err.Error()})
			return
		}
		w, err := svc.UpdateWinner(c.Request.Context(), id, wheel.WinnerUpdate{PrizeSent: req.PrizeSent, Notes: req.Notes})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": w})
	}
}

// deleteWinner 撤销中奖：回补库存并恢复抽奖码。
func deleteWinner(svc *wheel.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		if err := svc.DeleteWinner(c.Request.Context(), id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "winner removed, prize restocked and code reset"})
	}
}

// DeliveryLookup 查询一条通知的投递状态；found=false 表示没有记录。
type DeliveryLookup func(ctx context.Context, notificationID string) (rediskey.DeliveryState, bool, error)

// RedisDeliveries reads the delivery state the outbox and consumer keep in Redis.
func RedisDeliveries(rdb *rd.Client) DeliveryLookup {
	return func(ctx context.Context, notificationID string) (rediskey.DeliveryState, bool, error) {
		return rediskey.GetDeliveryState(ctx, rdb, notificationID)
	}
}

var winnerNotificationKinds = []notify.Kind{notify.KindWinnerConfirmation, notify.KindAdminWin}

// winnerNotifications 查看某条中奖记录的两封邮件投递情况。lookup 为 nil 时未开启投递追踪。
func winnerNotifications(svc *wheel.Service, lookup DeliveryLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c)
		if !ok {
			return
		}
		w, err := svc.Winner(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		deliveries := make([]gin.H, 0, len(winnerNotificationKinds))
		if lookup != nil {
			for _, kind := range winnerNotificationKinds {
				nid := notify.WinnerMessageID(w.RequestID, kind)
				st, found, err := lookup(c.Request.Context(), nid)
				if err != nil {
					writeError(c, err)
					return
				}
				status := "unknown"
				if found {
					status = st.Status
				}
				deliveries = append(deliveries, gin.H{
					"kind":            kind,
					"notification_id": nid,
					"status":          status,
					"reason":          st.Reason,
				})
			}
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": gin.H{
			"winner_id":  w.ID,
			"tracking":   lookup != nil,
			"deliveries": deliveries,
		}})
	}
}

// resetData 清空全部活动数据。需要管理员会话和单独的清库密码，响应里带回清空前的 CSV。
func resetData(svc *wheel.Service, m *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ResetPassword string `json:"resetPassword" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": "resetPassword is required"})
			return
		}
		switch err := m.CheckResetPassword(req.ResetPassword); {
		case errors.Is(err, auth.ErrResetDisabled):
			c.JSON(http.StatusServiceUnavailable, gin.H{"code": 503, "msg": err.Error()})
			return
		case err != nil:
			zap.S().Warnw("data reset rejected", "ip", c.ClientIP())
			c.JSON(http.StatusForbidden, gin.H{"code": 403, "msg": "invalid reset password"})
			return
		}

		snap, err := svc.Reset(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "all data has been reset", "data": gin.H{
			"csvData": gin.H{
				"prizes":  csvString(writePrizesCSV, snap.Prizes),
				"winners": csvString(writeWinnersCSV, snap.Winners),
				"codes":   csvString(writeCodesCSV, snap.Codes),
			},
			"stats": gin.H{
				"prizesDeleted":  len(snap.Prizes),
				"winnersDeleted": len(snap.Winners),
				"codesDeleted":   len(snap.Codes),
			},
		}})
	}
}
