package router

import (
	"context"
	"net/http"
	"time"

	"prize_wheel/internal/cache"
	"prize_wheel/internal/middleware"
	"prize_wheel/internal/model"
	"prize_wheel/internal/wheel"
	rediskey "prize_wheel/pkg/redis"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	msgTooManyAttempts = "Too many attempts. Please try again later."
	msgInvalidRequest  = "Invalid request"
	msgUnexpected      = "An unexpected error occurred. Please try again."
)

type codeRequest struct {
	Code string `json:"code"`
}

// bindCode 解析 {code}，缺失或为空返回 false。
func bindCode(c *gin.Context) (string, bool) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return "", false
	}
	code := wheel.NormalizeCode(req.Code)
	return code, code != ""
}

func validateLimited() any { return gin.H{"valid": false, "message": msgTooManyAttempts} }

func spinLimited() any { return gin.H{"success": false, "error": msgTooManyAttempts} }

// validateCode 只读预校验，不消耗抽奖码；无效码计入失败次数。
func validateCode(svc *wheel.Service, guard *middleware.AttemptGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		code, ok := bindCode(c)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"valid": false, "message": msgInvalidRequest})
			return
		}
		state, err := svc.Validate(c.Request.Context(), code)
		if err != nil {
			zap.S().Errorw("validate code failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"valid": false, "message": msgUnexpected})
			return
		}
		if state != wheel.CodeValid {
			guard.Failure(c)
		}
		c.JSON(http.StatusOK, gin.H{"valid": state == wheel.CodeValid, "message": state.Message()})
	}
}

// spin 抽奖入口：
// 1. 限流检查（中间件）
// 2. 事务内校验、选奖、扣库存、标记已用、写中奖记录
// 3. 业务拒绝计入失败次数，成功清零
// 只返回奖品的 id/title/imageUrl。
func spin(svc *wheel.Service, guard *middleware.AttemptGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		code, ok := bindCode(c)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msgInvalidRequest})
			return
		}
		res, err := svc.Spin(c.Request.Context(), code)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": msgUnexpected})
			return
		}
		if !res.Won() {
			guard.Failure(c)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": res.Outcome.Message()})
			return
		}
		guard.Success(c)
		c.JSON(http.StatusOK, gin.H{"success": true, "prize": res.Prize.Public()})
	}
}

// wheelPrizes 转盘展示用奖品列表（走缓存）。
func wheelPrizes(svc *wheel.Service, cc *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := cache.GetOrSet(c.Request.Context(), cc, rediskey.WheelPrizesKey(), ttl, svc.WheelPrizes)
		if err != nil {
			zap.S().Errorw("list wheel prizes failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": "failed to load prizes"})
			return
		}
		if list == nil {
			list = []model.PublicPrize{}
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "data": list})
	}
}

// lastWinners 最近中奖滚动列表。出错时降级为空列表。
func lastWinners(svc *wheel.Service, cc *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store, max-age=0")
		list, err := cache.GetOrSet(c.Request.Context(), cc, rediskey.RecentWinnersKey(recentWinnersLimit), ttl,
			func(ctx context.Context) ([]wheel.RecentWinner, error) {
				return svc.RecentWinners(ctx, recentWinnersLimit)
			})
		if err != nil {
			zap.S().Warnw("load recent winners failed", "error", err)
		}
		if list == nil {
			list = []wheel.RecentWinner{}
		}
		c.JSON(http.StatusOK, gin.H{"winners": list, "timestamp": time.Now().UTC()})
	}
}
