package router

import (
	"net/http"
	"time"

	"prize_wheel/internal/auth"
	"prize_wheel/internal/cache"
	"prize_wheel/internal/middleware"
	"prize_wheel/internal/wheel"

	"github.com/gin-gonic/gin"
	rd "github.com/redis/go-redis/v9"
)

const (
	recentWinnersLimit = 10

	loginThrottleLimit  = 10
	loginThrottleWindow = 15 * time.Minute

	resetThrottleLimit  = 5
	resetThrottleWindow = 15 * time.Minute
)

// Deps 路由依赖。Redis 为 nil 时缓存直通、登录不做请求级限流。
type Deps struct {
	Wheel    *wheel.Service
	Guard    *middleware.AttemptGuard
	Cache    *cache.Cache
	Auth     *auth.Manager
	Notifier wheel.IssueNotifier
	Redis    *rd.Client

	// Deliveries 为 nil 表示通知投递状态不追踪（direct 模式）
	Deliveries DeliveryLookup

	PrizeCacheTTL  time.Duration
	WinnerCacheTTL time.Duration
	EmailPacing    time.Duration
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	r.Use(middleware.Identify(), middleware.RequestLogger())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})

	api := r.Group("/api")
	// 展示
	api.GET("/prizes", wheelPrizes(d.Wheel, d.Cache, d.PrizeCacheTTL))
	api.GET("/last-winner", lastWinners(d.Wheel, d.Cache, d.WinnerCacheTTL))
	// 抽奖
	api.POST("/validate-code", d.Guard.Check(validateLimited), validateCode(d.Wheel, d.Guard))
	api.POST("/spin", d.Guard.Check(spinLimited), spin(d.Wheel, d.Guard))

	// 管理端
	api.POST("/admin/login", middleware.RedisThrottle(d.Redis, "admin_login", loginThrottleLimit, loginThrottleWindow), login(d.Auth))
	admin := api.Group("/admin", d.Auth.AdminAuth())

	admin.GET("/prizes", listPrizes(d.Wheel))
	admin.GET("/prizes/export", exportPrizes(d.Wheel))
	admin.POST("/prizes", createPrize(d.Wheel))
	admin.PUT("/prizes/:id", updatePrize(d.Wheel))
	admin.DELETE("/prizes/:id", deletePrize(d.Wheel))

	admin.GET("/codes", listCodes(d.Wheel))
	admin.GET("/codes/export", exportCodes(d.Wheel))
	admin.POST("/codes/generate", generateCodes(d.Wheel, d.Notifier, d.EmailPacing))
	admin.PUT("/codes/:id", updateCode(d.Wheel))
	admin.DELETE("/codes/:id", deleteCode(d.Wheel))

	admin.GET("/winners", listWinners(d.Wheel))
	admin.GET("/winners/export", exportWinners(d.Wheel))
	admin.PATCH("/winners/:id", updateWinner(d.Wheel))
	admin.DELETE("/winners/:id", deleteWinner(d.Wheel))
	admin.GET("/winners/:id/notifications", winnerNotifications(d.Wheel, d.Deliveries))

	admin.POST("/reset", middleware.RedisThrottle(d.Redis, "admin_reset", resetThrottleLimit, resetThrottleWindow), resetData(d.Wheel, d.Auth))
}
