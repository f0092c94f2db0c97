package router

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"prize_wheel/internal/model"
	"prize_wheel/internal/wheel"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var winnerCSVHeader = []string{"Date", "Time", "Name", "Email", "Code", "Prize", "Prize Sent", "Notes"}

var codeCSVHeader = []string{"code", "name", "email", "used", "created_at", "used_at"}

var prizeCSVHeader = []string{"title", "description", "imageUrl", "quantityTotal", "quantityRemaining", "weight"}

func csvAttachment(c *gin.Context, prefix string) {
	filename := fmt.Sprintf("%s-%s.csv", prefix, time.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Status(http.StatusOK)
}

// csvSafe 防止单元格被表格软件当作公式执行。
func csvSafe(s string) string {
	if s != "" && strings.ContainsAny(s[:1], "=+-@") {
		return "'" + s
	}
	return s
}

func writeWinnersCSV(out io.Writer, list []model.Winner) error {
	w := csv.NewWriter(out)
	_ = w.Write(winnerCSVHeader)
	for _, wn := range list {
		var name, email, code, prize string
		if wn.Code != nil {
			name, email, code = wn.Code.Name, wn.Code.Email, wn.Code.Code
		}
		if wn.Prize != nil {
			prize = wn.Prize.Title
		}
		sent := "No"
		if wn.PrizeSent {
			sent = "Yes"
		}
		_ = w.Write([]string{
			wn.WonAt.UTC().Format("2006-01-02"),
			wn.WonAt.UTC().Format("15:04:05"),
			csvSafe(name),
			csvSafe(email),
			code,
			csvSafe(prize),
			sent,
			csvSafe(wn.Notes),
		})
	}
	w.Flush()
	return w.Error()
}

func writeCodesCSV(out io.Writer, list []model.Code) error {
	w := csv.NewWriter(out)
	_ = w.Write(codeCSVHeader)
	for _, code := range list {
		usedAt := ""
		if code.UsedAt != nil {
			usedAt = code.UsedAt.UTC().Format(time.RFC3339)
		}
		_ = w.Write([]string{
			code.Code,
			csvSafe(code.Name),
			csvSafe(code.Email),
			strconv.FormatBool(code.Used),
			code.CreatedAt.UTC().Format(time.RFC3339),
			usedAt,
		})
	}
	w.Flush()
	return w.Error()
}

// writePrizesCSV 按创建顺序导出，列名沿用前端字段名。
func writePrizesCSV(out io.Writer, list []model.Prize) error {
	w := csv.NewWriter(out)
	_ = w.Write(prizeCSVHeader)
	for _, p := range list {
		_ = w.Write([]string{
			csvSafe(p.Title),
			csvSafe(p.Description),
			csvSafe(p.ImageURL),
			strconv.Itoa(p.QuantityTotal),
			strconv.Itoa(p.QuantityRemaining),
			strconv.Itoa(p.Weight),
		})
	}
	w.Flush()
	return w.Error()
}

// csvString renders a CSV table into memory for JSON responses.
func csvString[T any](write func(io.Writer, []T) error, list []T) string {
	var b strings.Builder
	if err := write(&b, list); err != nil {
		zap.S().Errorw("render csv failed", "error", err)
	}
	return b.String()
}

func exportWinners(svc *wheel.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.ListWinners(c.Request.Context(), 0)
		if err != nil {
			writeError(c, err)
			return
		}
		csvAttachment(c, "winners")
		if err := writeWinnersCSV(c.Writer, list); err != nil {
			zap.S().Errorw("export winners write failed", "error", err)
		}
	}
}

func exportCodes(svc *wheel.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.ListCodes(c.Request.Context(), nil)
		if err != nil {
			writeError(c, err)
			return
		}
		csvAttachment(c, "codes")
		if err := writeCodesCSV(c.Writer, list); err != nil {
			zap.S().Errorw("export codes write failed", "error", err)
		}
	}
}

func exportPrizes(svc *wheel.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.ListPrizes(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		csvAttachment(c, "prizes")
		if err := writePrizesCSV(c.Writer, list); err != nil {
			zap.S().Errorw("export prizes write failed", "error", err)
		}
	}
}
