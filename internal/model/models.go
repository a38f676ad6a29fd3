// Package model defines the data models for the bet settlement server.
package model

import "time"

// User represents a player account and its spendable currency.
type User struct {
	ID                    string     `db:"id" json:"id"`
	Username              string     `db:"username" json:"username"`
	Coins                 int64      `db:"coins" json:"coins"`
	Tickets               int        `db:"tickets" json:"tickets"`
	MembershipType        string     `db:"membership_type" json:"membershipType"`
	SubscriptionExpiresAt *time.Time `db:"subscription_expires_at" json:"subscriptionExpiresAt,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updatedAt"`
}

// Membership types.
const (
	MembershipNormal  = "normal"
	MembershipPremium = "premium"
)

// IsPremium reports whether the user holds an active premium membership at now.
// A premium membership without an expiry never lapses.
func (u *User) IsPremium(now time.Time) bool {
	if u.MembershipType != MembershipPremium {
		return false
	}
	return u.SubscriptionExpiresAt == nil || now.Before(*u.SubscriptionExpiresAt)
}

// Mode is a betting mode. Modes select the payout table and entitlement checks.
type Mode string

const (
	ModeClassic    Mode = "classic"
	ModeAllIn      Mode = "all-in"
	ModeHighStakes Mode = "high-stakes"
)

// ParseMode converts a client supplied mode. An empty string selects classic.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case "":
		return ModeClassic, true
	case ModeClassic, ModeAllIn, ModeHighStakes:
		return Mode(s), true
	default:
		return "", false
	}
}

// BetDraft is a reserved, not yet settled bet with an expiry.
// ServerSeed stays secret until the round is settled; SeedHash is its public commitment.
type BetDraft struct {
	BetID      string     `db:"bet_id" json:"betId"`
	UserID     string     `db:"user_id" json:"userId"`
	Amount     int64      `db:"amount" json:"amount"`
	Mode       Mode       `db:"mode" json:"mode"`
	ServerSeed string     `db:"server_seed" json:"serverSeed"`
	SeedHash   string     `db:"seed_hash" json:"seedHash"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expiresAt"`
	ConsumedAt *time.Time `db:"consumed_at" json:"consumedAt,omitempty"`
}

// Expired reports whether the draft can no longer be committed at now.
func (d *BetDraft) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// Consumed reports whether the draft has already been committed.
func (d *BetDraft) Consumed() bool {
	return d.ConsumedAt != nil
}

// Live reports whether the draft still holds a reservation at now.
func (d *BetDraft) Live(now time.Time) bool {
	return !d.Consumed() && !d.Expired(now)
}

// LedgerEntry is one balance mutation with the values on both sides of it.
type LedgerEntry struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"userId"`
	Amount        int64     `db:"amount" json:"amount"`
	BalanceBefore int64     `db:"balance_before" json:"balanceBefore"`
	BalanceAfter  int64     `db:"balance_after" json:"balanceAfter"`
	Type          string    `db:"type" json:"type"`
	RefID         string    `db:"ref_id" json:"refId"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

// Ledger entry types.
const (
	TxTypeBetDebit    = "bet_debit"    // Stake taken at commit
	TxTypeRoundCredit = "round_credit" // Payout and rebate of a settled round
	TxTypeRollback    = "rollback"     // Compensation of a failed settlement step
	TxTypeAdminCredit = "admin_credit" // Manual adjustment after reconciliation
)

// RoundResult is the outcome of a settled round from the player's side.
type RoundResult string

const (
	ResultWin  RoundResult = "WIN"
	ResultLose RoundResult = "LOSE"
	ResultPush RoundResult = "PUSH"
)

// RoundRecord is the immutable audit record of one settled round.
type RoundRecord struct {
	GameID         string      `db:"game_id" json:"gameId"`
	UserID         string      `db:"user_id" json:"userId"`
	BetID          string      `db:"bet_id" json:"betId"`
	Mode           Mode        `db:"mode" json:"mode"`
	GameHash       string      `db:"game_hash" json:"gameHash"`
	DeckSeed       string      `db:"deck_seed" json:"deckSeed"`
	DeckHash       string      `db:"deck_hash" json:"deckHash"`
	PreBalance     int64       `db:"pre_balance" json:"preBalance"`
	BetAmount      int64       `db:"bet_amount" json:"betAmount"`
	Result         RoundResult `db:"result" json:"result"`
	Multiplier     int         `db:"multiplier" json:"multiplier"`
	Payout         int64       `db:"payout" json:"payout"`
	Rebate         int64       `db:"rebate" json:"rebate"`
	PlayerHand     []string    `db:"player_hand" json:"playerHand"`
	DealerHand     []string    `db:"dealer_hand" json:"dealerHand"`
	PlayerTotal    int         `db:"player_total" json:"playerTotal"`
	DealerTotal    int         `db:"dealer_total" json:"dealerTotal"`
	IsBlackjack    bool        `db:"is_blackjack" json:"isBlackjack"`
	TicketConsumed bool        `db:"ticket_consumed" json:"ticketConsumed"`
	CreatedAt      time.Time   `db:"created_at" json:"createdAt"`
}

// Credit returns the total amount credited back to the player for this round.
func (r *RoundRecord) Credit() int64 {
	return r.Payout + r.Rebate
}

// ReconciliationAlert records a settlement that moved funds but could not finish.
type ReconciliationAlert struct {
	ID         string     `db:"id" json:"id"`
	BetID      string     `db:"bet_id" json:"betId"`
	UserID     string     `db:"user_id" json:"userId"`
	Stage      string     `db:"stage" json:"stage"`
	Amount     int64      `db:"amount" json:"amount"`
	Reason     string     `db:"reason" json:"reason"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolvedAt,omitempty"`
}
