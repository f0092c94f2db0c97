package wheel

import (
	"errors"
	"strings"
)

// CodeState 是预校验（只读）的结果。
type CodeState string

const (
	CodeNotFound    CodeState = "NOT_FOUND"
	CodeAlreadyUsed CodeState = "ALREADY_USED"
	CodeValid       CodeState = "VALID"
)

// Message 返回给前端的提示文案。
func (s CodeState) Message() string {
	switch s {
	case CodeValid:
		return "Code is valid"
	case CodeAlreadyUsed:
		return "Code already used"
	default:
		return "Invalid code"
	}
}

// Outcome is the business result of a spin. Rejections are ordinary results,
// not errors: nothing was mutated and the caller decides how to present them.
type Outcome string

const (
	OutcomeWon             Outcome = "WON"
	OutcomeInvalidCode     Outcome = "INVALID_CODE"
	OutcomeCodeAlreadyUsed Outcome = "CODE_ALREADY_USED"
	OutcomeNoPrizes        Outcome = "NO_PRIZES_AVAILABLE"
)

func (o Outcome) Message() string {
	switch o {
	case OutcomeWon:
		return "Congratulations!"
	case OutcomeInvalidCode:
		return "Invalid code. Please check and try again."
	case OutcomeCodeAlreadyUsed:
		return "This code has already been used."
	case OutcomeNoPrizes:
		return "No prizes available at this time. Please contact support."
	default:
		return "An unexpected error occurred. Please try again."
	}
}

var (
	// ErrTransient marks store conflicts, lock timeouts and unavailability during a
	// spin. No state was mutated; the request is always safe to retry.
	ErrTransient = errors.New("TRANSIENT_STORE_ERROR")

	ErrCodeNotFound     = errors.New("code not found")
	ErrCodeUsed         = errors.New("code has already been used")
	ErrPrizeNotFound    = errors.New("prize not found")
	ErrPrizeHasWinners  = errors.New("prize has winners and cannot be deleted")
	ErrInvalidPrize     = errors.New("invalid prize")
	ErrInvalidQuantity  = errors.New("quantity change would make remaining stock negative")
	ErrWinnerNotFound   = errors.New("winner not found")
	ErrReversalConflict = errors.New("winner reversal conflicts with current prize or code state")
	ErrInvalidIssue     = errors.New("invalid code generation request")
)

// NormalizeCode 统一抽奖码格式：去空白并转大写。
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
