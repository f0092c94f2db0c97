package wheel

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"prize_wheel/internal/events"
	"prize_wheel/internal/model"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	MaxIssueQuantity = 100

	codeAlphabet      = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeRandomLen     = 6
	maxCodeGenAttempt = 10
)

var validate = validator.New()

// IssueNotifier sends the "code issued" message for one freshly created code.
type IssueNotifier interface {
	CodeIssued(ctx context.Context, code model.Code) error
}

// IssueRequest 管理端批量发码请求：姓名、邮箱各一行，数量必须与 Quantity 一致。
type IssueRequest struct {
	Quantity int
	Names    []string
	Emails   []string
}

// IssueReport 部分成功是允许的，用计数反馈。
type IssueReport struct {
	Created          int          `json:"created"`
	SkippedDuplicate int          `json:"skipped_duplicate"`
	EmailsSent       int          `json:"emails_sent"`
	EmailsFailed     int          `json:"emails_failed"`
	Codes            []model.Code `json:"codes"`
}

// SplitLines splits textarea input into trimmed non-empty lines.
func SplitLines(text string) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if s := strings.TrimSpace(l); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (r IssueRequest) validate() error {
	if r.Quantity < 1 || r.Quantity > MaxIssueQuantity {
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidIssue, MaxIssueQuantity)
	}
	if len(r.Names) == 0 {
		return fmt.Errorf("%w: names are required, one per line", ErrInvalidIssue)
	}
	if len(r.Emails) == 0 {
		return fmt.Errorf("%w: email addresses are required, one per line", ErrInvalidIssue)
	}
	var bad []string
	for _, e := range r.Emails {
		if err := validate.Var(e, "required,email"); err != nil {
			bad = append(bad, e)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: invalid email address(es): %s", ErrInvalidIssue, strings.Join(bad, ", "))
	}
	if len(r.Names) != r.Quantity {
		return fmt.Errorf("%w: number of names (%d) must match quantity (%d)", ErrInvalidIssue, len(r.Names), r.Quantity)
	}
	if len(r.Emails) != r.Quantity {
		return fmt.Errorf("%w: number of emails (%d) must match quantity (%d)", ErrInvalidIssue, len(r.Emails), r.Quantity)
	}
	return nil
}

// IssueCodes 批量生成抽奖码：
// 1. 校验请求
// 2. 跳过邮箱已持有抽奖码的条目（规范化后精确匹配）
// 3. 生成唯一码并批量写入
// 4. 逐个发送发码邮件，间隔 pacing 以遵守邮件服务商限速
// 写库成功后邮件失败只计数，不回滚。
func (s *Service) IssueCodes(ctx context.Context, req IssueRequest, notifier IssueNotifier, pacing time.Duration) (IssueReport, error) {
	if err := req.validate(); err != nil {
		return IssueReport{}, err
	}

	var report IssueReport
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		report = IssueReport{}

		var existing []string
		if err := tx.Model(&model.Code{}).Where("email <> ?", "").Pluck("email", &existing).Error; err != nil {
			return err
		}
		taken := emailSet(existing)

		batch := make(map[string]bool, req.Quantity)
		codes := make([]model.Code, 0, req.Quantity)
		for i := 0; i < req.Quantity; i++ {
			email := normalizeEmail(req.Emails[i])
			if taken[email] {
				zap.S().Infow("skipping code issue, email already has a code", "email", email)
				report.SkippedDuplicate++
				continue
			}
			taken[email] = true

			code, err := s.uniqueCode(tx, batch)
			if err != nil {
				return err
			}
			batch[code] = true
			codes = append(codes, model.Code{
				Code:  code,
				Name:  sanitizeName(req.Names[i]),
				Email: email,
			})
		}
		if len(codes) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&codes, 100).Error; err != nil {
			return err
		}
		report.Codes = codes
		report.Created = len(codes)
		return nil
	})
	if err != nil {
		return IssueReport{}, err
	}
	if report.Created > 0 {
		s.bus.Publish(events.New(events.CodesIssued, events.CodesPayload{Codes: report.Codes}))
	}

	if notifier == nil {
		return report, nil
	}
	for i, c := range report.Codes {
		if i > 0 && pacing > 0 {
			select {
			case <-ctx.Done():
				report.EmailsFailed += len(report.Codes) - i
				zap.S().Warnw("code issue emails interrupted", "remaining", len(report.Codes)-i, "error", ctx.Err())
				return report, nil
			case <-time.After(pacing):
			}
		}
		if err := notifier.CodeIssued(ctx, c); err != nil {
			report.EmailsFailed++
			zap.S().Errorw("code issued email failed", "kind", "NOTIFICATION_FAILURE", "email", c.Email, "error", err)
			continue
		}
		report.EmailsSent++
	}
	return report, nil
}

// uniqueCode 生成 <prefix>-<year>-<6位随机> 格式的码，并检查批内与库内均不重复。
func (s *Service) uniqueCode(tx *gorm.DB, batch map[string]bool) (string, error) {
	year := s.now().UTC().Year()
	for attempt := 0; attempt < maxCodeGenAttempt; attempt++ {
		suffix, err := randomString(codeRandomLen)
		if err != nil {
			return "", err
		}
		code := fmt.Sprintf("%s-%d-%s", s.codePrefix, year, suffix)
		if batch[code] {
			continue
		}
		var n int64
		if err := tx.Model(&model.Code{}).Where("code = ?", code).Count(&n).Error; err != nil {
			return "", err
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", errors.New("could not generate a unique code")
}

func randomString(n int) (string, error) {
	alphabet := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[v.Int64()]
	}
	return string(b), nil
}

// emailSet 构建已有邮箱集合。历史数据里一个字段可能存了多个邮箱（, ; | 分隔），逐个拆开。
func emailSet(fields []string) map[string]bool {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		for _, e := range strings.FieldsFunc(f, func(r rune) bool { return r == ',' || r == ';' || r == '|' }) {
			if e = normalizeEmail(e); e != "" {
				set[e] = true
			}
		}
	}
	return set
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var nameSanitizer = strings.NewReplacer("<", "", ">", "")

func sanitizeName(name string) string {
	return strings.TrimSpace(nameSanitizer.Replace(name))
}
