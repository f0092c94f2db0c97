package wheel

import (
	"crypto/rand"
	"errors"
	"math/big"

	"prize_wheel/internal/model"
)

// Source draws a uniform integer in [0, n).
type Source interface {
	Int63n(n int64) (int64, error)
}

type cryptoSource struct{}

func (cryptoSource) Int63n(n int64) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}

// CryptoSource 基于 crypto/rand，客户端无法预测或重放。
var CryptoSource Source = cryptoSource{}

var ErrNoCandidates = errors.New("no candidates to select from")

// SelectWeighted picks one prize with probability weight/Σweight.
//
// r is drawn from [0, total) and each candidate's weight is subtracted in order;
// the candidate that takes r below zero wins. If the walk runs out (it cannot with
// integer weights, but the guard stays) the last candidate is returned.
// Filtering out-of-stock prizes is the caller's job.
func SelectWeighted(prizes []model.Prize, src Source) (model.Prize, error) {
	if len(prizes) == 0 {
		return model.Prize{}, ErrNoCandidates
	}
	var total int64
	for _, p := range prizes {
		if p.Weight > 0 {
			total += int64(p.Weight)
		}
	}
	if total <= 0 {
		return prizes[len(prizes)-1], nil
	}

	r, err := src.Int63n(total)
	if err != nil {
		return model.Prize{}, err
	}
	for _, p := range prizes {
		if p.Weight <= 0 {
			continue
		}
		r -= int64(p.Weight)
		if r < 0 {
			return p, nil
		}
	}
	return prizes[len(prizes)-1], nil
}
