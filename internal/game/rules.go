// Package game holds the per-mode payout rules and the provably fair
// Round Outcome Generator built on them.
package game

import (
	"errors"
	"fmt"
	"math"

	"faceup-server/internal/config"
	"faceup-server/internal/game/blackjack"
	"faceup-server/internal/model"
)

var (
	ErrUnknownMode    = errors.New("unknown mode")
	ErrAmountTooLarge = errors.New("amount exceeds the table limit")
)

// Rules is the payout table of one betting mode.
// Multipliers are profit multipliers: a WIN pays back the stake plus
// stake*WinMultiplier.
type Rules struct {
	Mode                model.Mode
	WinMultiplier       int
	BlackjackMultiplier int
	RebatePercent       int
	MaxBet              int64
	RequiresPremium     bool
	RequiresTicket      bool
}

// Settlement is the money side of a resolved round.
type Settlement struct {
	Multiplier int
	Payout     int64 // gross credit, stake included
	Rebate     int64 // loss rebate, LOSE only
}

// Credit is the total amount returned to the player.
func (s Settlement) Credit() int64 {
	return s.Payout + s.Rebate
}

// Validate rejects tables that would pay fractions or negative amounts.
func (r Rules) Validate() error {
	if r.Mode == "" {
		return errors.New("rules mode cannot be empty")
	}
	if r.WinMultiplier < 0 || r.BlackjackMultiplier < 0 {
		return fmt.Errorf("%s: multipliers must not be negative", r.Mode)
	}
	if r.RebatePercent < 0 || r.RebatePercent > 100 {
		return fmt.Errorf("%s: rebate_percent must be within [0, 100]", r.Mode)
	}
	if r.MaxBet < 0 {
		return fmt.Errorf("%s: max_bet must not be negative", r.Mode)
	}
	return nil
}

// CheckAmount enforces the table limit and keeps the largest possible
// payout inside int64.
func (r Rules) CheckAmount(amount int64) error {
	if r.MaxBet > 0 && amount > r.MaxBet {
		return fmt.Errorf("%w: max %d", ErrAmountTooLarge, r.MaxBet)
	}
	top := max(r.WinMultiplier+1, r.BlackjackMultiplier+1, r.RebatePercent, 1)
	if amount > math.MaxInt64/int64(top) {
		return ErrAmountTooLarge
	}
	return nil
}

// Settle computes the payout for amount given the played outcome.
// PUSH returns the stake. The rebate is floor(amount*RebatePercent/100).
func (r Rules) Settle(amount int64, o *blackjack.Outcome) Settlement {
	switch o.Result {
	case model.ResultWin:
		m := r.WinMultiplier
		if o.PlayerBlackjack {
			m = r.BlackjackMultiplier
		}
		return Settlement{Multiplier: m, Payout: amount + amount*int64(m)}
	case model.ResultPush:
		return Settlement{Payout: amount}
	default:
		return Settlement{Rebate: amount * int64(r.RebatePercent) / 100}
	}
}

// RulesFromConfig builds the three standard modes from configuration.
func RulesFromConfig(cfg config.GamesConfig) []Rules {
	return []Rules{
		fromModeConfig(model.ModeClassic, cfg.Classic),
		withTicket(fromModeConfig(model.ModeAllIn, cfg.AllIn)),
		withPremium(fromModeConfig(model.ModeHighStakes, cfg.HighStakes)),
	}
}

func fromModeConfig(mode model.Mode, c config.ModeConfig) Rules {
	return Rules{
		Mode:                mode,
		WinMultiplier:       c.WinMultiplier,
		BlackjackMultiplier: c.BlackjackMultiplier,
		RebatePercent:       c.RebatePercent,
		MaxBet:              c.MaxBet,
	}
}

func withTicket(r Rules) Rules {
	r.RequiresTicket = true
	return r
}

func withPremium(r Rules) Rules {
	r.RequiresPremium = true
	return r
}
