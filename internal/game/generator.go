package game

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"faceup-server/internal/fairness"
	"faceup-server/internal/game/blackjack"
	"faceup-server/internal/model"
)

// ErrCommitmentMismatch means a draft's seed no longer matches the hash
// published when it was prepared.
var ErrCommitmentMismatch = errors.New("server seed does not match its commitment")

// Generator is the Round Outcome Generator. Given a prepared draft it deals
// a round from the committed seed and prices it with the mode's rules.
type Generator struct {
	registry *Registry
	newID    func() string
}

// NewGenerator creates a generator over registry.
func NewGenerator(registry *Registry) *Generator {
	return &Generator{
		registry: registry,
		newID:    func() string { return uuid.NewString() },
	}
}

// Deal replays the deck derived from seed, betID and amount.
func Deal(seed, betID string, amount int64) (*blackjack.Outcome, error) {
	deck, err := blackjack.Arrange(fairness.Shuffle(seed, betID, amount, blackjack.DeckSize))
	if err != nil {
		return nil, err
	}
	return blackjack.Play(deck)
}

// Resolve produces the round record for draft. PreBalance, TicketConsumed
// and CreatedAt are left for the caller, which knows the ledger state.
func (g *Generator) Resolve(draft *model.BetDraft) (*model.RoundRecord, error) {
	rules, ok := g.registry.Get(draft.Mode)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, draft.Mode)
	}
	if !fairness.VerifyCommitment(draft.ServerSeed, draft.SeedHash) {
		return nil, ErrCommitmentMismatch
	}

	outcome, err := Deal(draft.ServerSeed, draft.BetID, draft.Amount)
	if err != nil {
		return nil, fmt.Errorf("deal round: %w", err)
	}
	s := rules.Settle(draft.Amount, outcome)

	gameID := g.newID()
	return &model.RoundRecord{
		GameID:      gameID,
		UserID:      draft.UserID,
		BetID:       draft.BetID,
		Mode:        draft.Mode,
		GameHash:    fairness.GameHash(draft.ServerSeed, gameID, draft.BetID, draft.Amount),
		DeckSeed:    draft.ServerSeed,
		DeckHash:    draft.SeedHash,
		BetAmount:   draft.Amount,
		Result:      outcome.Result,
		Multiplier:  s.Multiplier,
		Payout:      s.Payout,
		Rebate:      s.Rebate,
		PlayerHand:  blackjack.Strings(outcome.Player),
		DealerHand:  blackjack.Strings(outcome.Dealer),
		PlayerTotal: outcome.PlayerTotal,
		DealerTotal: outcome.DealerTotal,
		IsBlackjack: outcome.PlayerBlackjack,
	}, nil
}

// VerifyInput is what a third party needs to replay a round.
type VerifyInput struct {
	DeckSeed string `json:"deckSeed"`
	DeckHash string `json:"deckHash"`
	GameID   string `json:"gameId"`
	BetID    string `json:"betId"`
	Amount   int64  `json:"amount"`
	GameHash string `json:"gameHash,omitempty"`
}

// Verification is the replay of a round from its public inputs.
type Verification struct {
	DeckHashValid bool              `json:"deckHashValid"`
	GameHash      string            `json:"gameHash"`
	GameHashValid bool              `json:"gameHashValid"`
	OutcomeValid  bool              `json:"outcomeValid"`
	Result        model.RoundResult `json:"result"`
	PlayerHand    []string          `json:"playerHand"`
	DealerHand    []string          `json:"dealerHand"`
	PlayerTotal   int               `json:"playerTotal"`
	DealerTotal   int               `json:"dealerTotal"`
	IsBlackjack   bool              `json:"isBlackjack"`
}

// Valid reports whether every check passed.
func (v *Verification) Valid() bool {
	return v.DeckHashValid && v.GameHashValid && v.OutcomeValid
}

// Verify replays a round from in. When in.GameHash is empty only the
// recomputed hash is returned and GameHashValid is true. OutcomeValid is
// true unless a recorded round is compared with VerifyRecord.
func Verify(in VerifyInput) (*Verification, error) {
	outcome, err := Deal(in.DeckSeed, in.BetID, in.Amount)
	if err != nil {
		return nil, err
	}
	gameHash := fairness.GameHash(in.DeckSeed, in.GameID, in.BetID, in.Amount)
	return &Verification{
		DeckHashValid: fairness.VerifyCommitment(in.DeckSeed, in.DeckHash),
		GameHash:      gameHash,
		GameHashValid: in.GameHash == "" || in.GameHash == gameHash,
		OutcomeValid:  true,
		Result:        outcome.Result,
		PlayerHand:    blackjack.Strings(outcome.Player),
		DealerHand:    blackjack.Strings(outcome.Dealer),
		PlayerTotal:   outcome.PlayerTotal,
		DealerTotal:   outcome.DealerTotal,
		IsBlackjack:   outcome.PlayerBlackjack,
	}, nil
}

// VerifyRecord replays rec and compares the deal with what was stored.
func VerifyRecord(rec *model.RoundRecord) (*Verification, error) {
	v, err := Verify(VerifyInput{
		DeckSeed: rec.DeckSeed,
		DeckHash: rec.DeckHash,
		GameID:   rec.GameID,
		BetID:    rec.BetID,
		Amount:   rec.BetAmount,
		GameHash: rec.GameHash,
	})
	if err != nil {
		return nil, err
	}
	v.OutcomeValid = v.Result == rec.Result &&
		slices.Equal(v.PlayerHand, rec.PlayerHand) &&
		slices.Equal(v.DealerHand, rec.DealerHand) &&
		v.PlayerTotal == rec.PlayerTotal &&
		v.DealerTotal == rec.DealerTotal &&
		v.IsBlackjack == rec.IsBlackjack
	return v, nil
}
