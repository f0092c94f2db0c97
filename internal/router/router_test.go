package router

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"prize_wheel/internal/auth"
	"prize_wheel/internal/cache"
	"prize_wheel/internal/middleware"
	"prize_wheel/internal/model"
	"prize_wheel/internal/notify"
	"prize_wheel/internal/ratelimit"
	"prize_wheel/internal/store/storetest"
	"prize_wheel/internal/wheel"
	rediskey "prize_wheel/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	engine *gin.Engine
	auth   *auth.Manager
}

type noopNotifier struct{ sent int }

func (n *noopNotifier) CodeIssued(context.Context, model.Code) error {
	n.sent++
	return nil
}

func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := storetest.Open(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	require.NoError(t, err)
	am := auth.NewManager("secret", hash, time.Hour)

	d := Deps{
		Wheel:          wheel.NewService(db, nil),
		Guard:          middleware.NewAttemptGuard(ratelimit.NewDBLimiter(db, ratelimit.Policy{})),
		Cache:          cache.New(nil),
		Auth:           am,
		Notifier:       &noopNotifier{},
		PrizeCacheTTL:  time.Minute,
		WinnerCacheTTL: time.Minute,
	}
	for _, o := range opts {
		o(&d)
	}
	r := gin.New()
	Setup(r, d)
	return &fixture{db: db, engine: r, auth: am}
}

func (f *fixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) admin(t *testing.T) http.Header {
	t.Helper()
	token, _, err := f.auth.Issue()
	require.NoError(t, err)
	return http.Header{"Authorization": {"Bearer " + token}}
}

func (f *fixture) seed(t *testing.T, codes ...string) model.Prize {
	t.Helper()
	p := model.Prize{Title: "Mug", ImageURL: "/img/mug.png", QuantityTotal: 3, QuantityRemaining: 3, Weight: 7}
	require.NoError(t, f.db.Create(&p).Error)
	for _, c := range codes {
		require.NoError(t, f.db.Create(&model.Code{Code: c, Name: "Ann", Email: "ann@example.org"}).Error)
	}
	return p
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestSpin_SuccessExposesOnlyPublicPrizeFields(t *testing.T) {
	f := newFixture(t)
	p := f.seed(t, "AK-2025-ABCD")

	w := f.do(t, http.MethodPost, "/api/spin", gin.H{"code": " ak-2025-abcd "}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{
		"id":       float64(p.ID),
		"title":    "Mug",
		"imageUrl": "/img/mug.png",
	}, body["prize"])
	assert.NotContains(t, w.Body.String(), "quantity_remaining")
	assert.NotContains(t, w.Body.String(), "weight")

	w = f.do(t, http.MethodPost, "/api/spin", gin.H{"code": "AK-2025-ABCD"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, map[string]any{"success": false, "error": wheel.OutcomeCodeAlreadyUsed.Message()}, decode(t, w))
}

func TestSpin_BadRequest(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/spin", gin.H{"code": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request", decode(t, w)["error"])
}

func TestSpin_SixthFailedAttemptIsRateLimited(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "AK-2025-GOOD")

	for i := 0; i < 5; i++ {
		w := f.do(t, http.MethodPost, "/api/spin", gin.H{"code": "AK-2025-NOPE"}, nil)
		require.Equal(t, http.StatusBadRequest, w.Code, "attempt %d", i+1)
	}
	w := f.do(t, http.MethodPost, "/api/spin", gin.H{"code": "AK-2025-GOOD"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, map[string]any{"success": false, "error": "Too many attempts. Please try again later."}, decode(t, w))

	w = f.do(t, http.MethodPost, "/api/validate-code", gin.H{"code": "AK-2025-GOOD"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, false, decode(t, w)["valid"])
}

func TestSpin_SuccessResetsAttempts(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "AK-2025-GOOD")

	for i := 0; i < 4; i++ {
		f.do(t, http.MethodPost, "/api/spin", gin.H{"code": "AK-2025-NOPE"}, nil)
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/spin", gin.H{"code": "AK-2025-GOOD"}, nil).Code)

	n, err := ratelimit.NewDBLimiter(f.db, ratelimit.Policy{}).Attempts(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestValidateCode(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "AK-2025-ABCD")

	cases := []struct {
		code  string
		valid bool
		msg   string
	}{
		{"ak-2025-abcd", true, wheel.CodeValid.Message()},
		{"AK-2025-ZZZZ", false, wheel.CodeNotFound.Message()},
	}
	for _, tc := range cases {
		w := f.do(t, http.MethodPost, "/api/validate-code", gin.H{"code": tc.code}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"valid": tc.valid, "message": tc.msg}, decode(t, w))
	}

	var code model.Code
	require.NoError(t, f.db.Where("code = ?", "AK-2025-ABCD").Take(&code).Error)
	assert.False(t, code.Used)

	n, err := ratelimit.NewDBLimiter(f.db, ratelimit.Policy{}).Attempts(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPublicCatalog(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "AK-2025-ABCD")

	w := f.do(t, http.MethodGet, "/api/prizes", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "weight")

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/spin", gin.H{"code": "AK-2025-ABCD"}, nil).Code)

	w = f.do(t, http.MethodGet, "/api/last-winner", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store, max-age=0", w.Header().Get("Cache-Control"))
	winners := decode(t, w)["winners"].([]any)
	require.Len(t, winners, 1)
	assert.Equal(t, "Ann", winners[0].(map[string]any)["name"])
	assert.Equal(t, "Mug", winners[0].(map[string]any)["prizeName"])
}

func TestAdmin_RequiresToken(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/admin/prizes", nil, nil).Code)

	w := f.do(t, http.MethodPost, "/api/admin/login", gin.H{"password": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/api/admin/login", gin.H{"password": "letmein"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	token := decode(t, w)["data"].(map[string]any)["token"].(string)

	w = f.do(t, http.MethodGet, "/api/admin/prizes", nil, http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdmin_PrizeLifecycle(t *testing.T) {
	f := newFixture(t)
	h := f.admin(t)

	w := f.do(t, http.MethodPost, "/api/admin/prizes", gin.H{"title": "Mug", "quantity_total": 2, "weight": 5}, h)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := int(decode(t, w)["data"].(map[string]any)["id"].(float64))

	w = f.do(t, http.MethodPost, "/api/admin/prizes", gin.H{"title": "Bad", "quantity_total": 0, "weight": 5}, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := "/api/admin/prizes/" + strconv.Itoa(id)
	w = f.do(t, http.MethodPut, path, gin.H{"title": "Mug", "quantity_total": 5, "weight": 5}, h)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(5), decode(t, w)["data"].(map[string]any)["quantity_remaining"])

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, path, nil, h).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, path, nil, h).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/api/admin/prizes/abc", nil, h).Code)
}

func TestAdmin_GenerateCodes(t *testing.T) {
	f := newFixture(t)
	h := f.admin(t)

	w := f.do(t, http.MethodPost, "/api/admin/codes/generate", gin.H{
		"quantity": 2,
		"names":    "Ann\nBob",
		"emails":   "ann@example.org\nbob@example.org",
	}, h)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, float64(2), data["created"])
	assert.Equal(t, float64(2), data["emails_sent"])

	w = f.do(t, http.MethodPost, "/api/admin/codes/generate", gin.H{
		"quantity": 2,
		"names":    "Ann",
		"emails":   "ann@example.org",
	}, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/admin/codes?used=false", nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"].([]any), 2)
}

func TestAdmin_WinnerReversalAndExport(t *testing.T) {
	f := newFixture(t)
	h := f.admin(t)
	p := f.seed(t, "AK-2025-ABCD")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/spin", gin.H{"code": "AK-2025-ABCD"}, nil).Code)

	w := f.do(t, http.MethodGet, "/api/admin/winners/export", nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment; filename=\"winners-")
	rows, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, winnerCSVHeader, rows[0])
	assert.Equal(t, []string{"Ann", "ann@example.org", "AK-2025-ABCD", "Mug", "No", ""}, rows[1][2:])

	var winner model.Winner
	require.NoError(t, f.db.Take(&winner).Error)
	path := "/api/admin/winners/" + strconv.Itoa(int(winner.ID))

	w = f.do(t, http.MethodPatch, path, gin.H{"prize_sent": true, "notes": "shipped"}, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["data"].(map[string]any)["prize_sent"])

	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, path, nil, h).Code)
	var after model.Prize
	require.NoError(t, f.db.First(&after, p.ID).Error)
	assert.Equal(t, 3, after.QuantityRemaining)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, path, nil, h).Code)
}

func withResetPassword(t *testing.T, password string) func(*Deps) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return func(d *Deps) { d.Auth.WithResetPassword(hash) }
}

func TestAdmin_PrizeExport(t *testing.T) {
	f := newFixture(t)
	h := f.admin(t)
	f.seed(t)
	require.NoError(t, f.db.Create(&model.Prize{Title: "=Hat", Description: "Red, large", QuantityTotal: 2, QuantityRemaining: 1, Weight: 3}).Error)

	w := f.do(t, http.MethodGet, "/api/admin/prizes/export", nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment; filename=\"prizes-")
	rows, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"title", "description", "imageUrl", "quantityTotal", "quantityRemaining", "weight"},
		{"Mug", "", "/img/mug.png", "3", "3", "7"},
		{"'=Hat", "Red, large", "", "2", "1", "3"},
	}, rows)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/admin/prizes/export", nil, nil).Code)
}

func TestAdmin_ResetDisabledWithoutPassword(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "AK-2025-ABCD")

	w := f.do(t, http.MethodPost, "/api/admin/reset", gin.H{"resetPassword": "anything"}, f.admin(t))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var n int64
	require.NoError(t, f.db.Model(&model.Code{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestAdmin_ResetExportsThenWipes(t *testing.T) {
	f := newFixture(t, withResetPassword(t, "wipe-it"))
	h := f.admin(t)
	f.seed(t, "AK-2025-ABCD", "AK-2025-EFGH")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/spin", gin.H{"code": "AK-2025-ABCD"}, nil).Code)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/api/admin/reset", gin.H{"resetPassword": "wipe-it"}, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/admin/reset", gin.H{}, h).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/admin/reset", gin.H{"resetPassword": "letmein"}, h).Code)

	var winners int64
	require.NoError(t, f.db.Model(&model.Winner{}).Count(&winners).Error)
	require.EqualValues(t, 1, winners)

	w := f.do(t, http.MethodPost, "/api/admin/reset", gin.H{"resetPassword": "wipe-it"}, h)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, map[string]any{
		"prizesDeleted":  float64(1),
		"winnersDeleted": float64(1),
		"codesDeleted":   float64(2),
	}, data["stats"])

	exported := data["csvData"].(map[string]any)
	prizeRows, err := csv.NewReader(strings.NewReader(exported["prizes"].(string))).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"Mug", "", "/img/mug.png", "3", "2", "7"}, prizeRows[1])
	winnerRows, err := csv.NewReader(strings.NewReader(exported["winners"].(string))).ReadAll()
	require.NoError(t, err)
	require.Len(t, winnerRows, 2)
	assert.Equal(t, "AK-2025-ABCD", winnerRows[1][4])
	codeRows, err := csv.NewReader(strings.NewReader(exported["codes"].(string))).ReadAll()
	require.NoError(t, err)
	assert.Len(t, codeRows, 3)

	for _, m := range []any{&model.Winner{}, &model.Code{}, &model.Prize{}, &model.RateLimitRecord{}} {
		var n int64
		require.NoError(t, f.db.Model(m).Count(&n).Error)
		assert.EqualValues(t, 0, n, "%T", m)
	}
}

func TestAdmin_WinnerNotificationStatus(t *testing.T) {
	states := map[string]rediskey.DeliveryState{}
	lookupErr := error(nil)
	f := newFixture(t, func(d *Deps) {
		d.Deliveries = func(_ context.Context, id string) (rediskey.DeliveryState, bool, error) {
			if lookupErr != nil {
				return rediskey.DeliveryState{}, false, lookupErr
			}
			st, ok := states[id]
			return st, ok, nil
		}
	})
	h := f.admin(t)
	f.seed(t, "AK-2025-ABCD")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/spin", gin.H{"code": "AK-2025-ABCD"}, nil).Code)

	var winner model.Winner
	require.NoError(t, f.db.Take(&winner).Error)
	confirmID := notify.WinnerMessageID(winner.RequestID, notify.KindWinnerConfirmation)
	states[confirmID] = rediskey.DeliveryState{NotificationID: confirmID, Status: rediskey.DeliveryFailed, Reason: "mailbox full"}

	path := "/api/admin/winners/" + strconv.Itoa(int(winner.ID)) + "/notifications"
	w := f.do(t, http.MethodGet, path, nil, h)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, true, data["tracking"])
	deliveries := data["deliveries"].([]any)
	require.Len(t, deliveries, 2)
	assert.Equal(t, map[string]any{
		"kind":            string(notify.KindWinnerConfirmation),
		"notification_id": confirmID,
		"status":          rediskey.DeliveryFailed,
		"reason":          "mailbox full",
	}, deliveries[0])
	assert.Equal(t, "unknown", deliveries[1].(map[string]any)["status"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/admin/winners/999/notifications", nil, h).Code)

	lookupErr = errors.New("redis down")
	assert.Equal(t, http.StatusInternalServerError, f.do(t, http.MethodGet, path, nil, h).Code)
}

func TestAdmin_WinnerNotificationStatusUntracked(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "AK-2025-ABCD")
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/spin", gin.H{"code": "AK-2025-ABCD"}, nil).Code)
	var winner model.Winner
	require.NoError(t, f.db.Take(&winner).Error)

	w := f.do(t, http.MethodGet, "/api/admin/winners/"+strconv.Itoa(int(winner.ID))+"/notifications", nil, f.admin(t))
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, false, data["tracking"])
	assert.Empty(t, data["deliveries"])
}
