package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"faceup-server/internal/config"
	"faceup-server/internal/fairness"
	"faceup-server/internal/game"
	"faceup-server/internal/ledger"
	"faceup-server/internal/model"
	"faceup-server/internal/pkg/lock"
	"faceup-server/internal/pkg/retry"
	"faceup-server/internal/repository"
)

// MaxBetIDLength bounds client generated bet ids.
const MaxBetIDLength = 128

// BetOptions configures BetService.
type BetOptions struct {
	DraftTTL    time.Duration
	MaxBet      int64
	OpTimeout   time.Duration
	LockTimeout time.Duration
	Debit       retry.Policy
	Credit      retry.Policy
	Record      retry.Policy
}

// BetOptionsFromConfig builds BetOptions from the bets and settlement sections.
func BetOptionsFromConfig(b config.BetsConfig, s config.SettlementConfig) BetOptions {
	return BetOptions{
		DraftTTL:    b.DraftTTL,
		MaxBet:      b.MaxBet,
		OpTimeout:   b.OpTimeout,
		LockTimeout: b.LockTimeout,
		Debit:       retry.Policy{Attempts: s.DebitAttempts, BaseDelay: s.RetryBaseDelay, MaxDelay: s.RetryMaxDelay},
		Credit:      retry.Policy{Attempts: s.CreditAttempts, BaseDelay: s.RetryBaseDelay, MaxDelay: s.RetryMaxDelay},
		Record:      retry.Policy{Attempts: s.RecordAttempts, BaseDelay: s.RetryBaseDelay, MaxDelay: s.RetryMaxDelay},
	}
}

// BetService is the Settlement Engine. It turns a prepared draft into a
// debit, a dealt round, a credit and a stored round record, in that order.
//
// The bet lock serializes Prepare and the consume+debit part of Commit per
// user, so the reservation check in Prepare always sees the debits of
// earlier commits. Ledger mutations take their own lock inside the ledger.
type BetService struct {
	drafts    DraftStore
	users     UserStore
	rounds    RoundStore
	alerts    AlertStore
	ledger    *ledger.Ledger
	registry  *game.Registry
	generator *game.Generator
	locks     *lock.UserLock
	opts      BetOptions

	now     func() time.Time
	newSeed func() (string, error)
}

// NewBetService creates a new BetService instance.
func NewBetService(
	drafts DraftStore,
	users UserStore,
	rounds RoundStore,
	alerts AlertStore,
	l *ledger.Ledger,
	registry *game.Registry,
	locks *lock.UserLock,
	opts BetOptions,
) *BetService {
	if opts.DraftTTL <= 0 {
		opts.DraftTTL = 2 * time.Minute
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 3 * time.Second
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Second
	}
	if locks == nil {
		locks = lock.NewUserLock()
	}
	return &BetService{
		drafts:    drafts,
		users:     users,
		rounds:    rounds,
		alerts:    alerts,
		ledger:    l,
		registry:  registry,
		generator: game.NewGenerator(registry),
		locks:     locks,
		opts:      opts,
		now:       time.Now,
		newSeed:   fairness.GenerateSeed,
	}
}

// PrepareRequest is a client's request to reserve a bet.
type PrepareRequest struct {
	BetID  string
	UserID string
	Amount int64
	Mode   string
}

// Prepare validates the bet and stores a draft that expires after the
// draft TTL. The user's balance minus what live drafts already reserve
// must cover the amount.
func (s *BetService) Prepare(ctx context.Context, req PrepareRequest) (*model.BetDraft, error) {
	if err := validateBetID(req.BetID); err != nil {
		return nil, err
	}
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	mode, ok := model.ParseMode(req.Mode)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	rules, ok := s.registry.Get(mode)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not offered", ErrInvalidMode, mode)
	}
	if s.opts.MaxBet > 0 && req.Amount > s.opts.MaxBet {
		return nil, fmt.Errorf("%w: max %d", ErrInvalidAmount, s.opts.MaxBet)
	}
	if err := rules.CheckAmount(req.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	var draft *model.BetDraft
	err := s.locks.WithLockContext(ctx, req.UserID, s.opts.LockTimeout, func() error {
		var err error
		draft, err = s.prepareLocked(ctx, req, rules)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	log.Debug().
		Str("user_id", draft.UserID).
		Str("bet_id", draft.BetID).
		Str("mode", string(draft.Mode)).
		Int64("amount", draft.Amount).
		Time("expires_at", draft.ExpiresAt).
		Msg("Bet drafted")
	return draft, nil
}

func (s *BetService) prepareLocked(ctx context.Context, req PrepareRequest, rules game.Rules) (*model.BetDraft, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()
	now := s.now()

	user, err := s.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if rules.RequiresPremium && !user.IsPremium(now) {
		return nil, ErrModeForbidden
	}
	if rules.RequiresTicket && user.Tickets < 1 {
		return nil, ErrTicketRequired
	}

	// Draft stores may forget consumed drafts; a recorded round never goes away.
	if _, err := s.rounds.GetByBetID(ctx, req.BetID); err == nil {
		return nil, ErrDuplicateBetID
	} else if !errors.Is(err, repository.ErrRoundNotFound) {
		return nil, fmt.Errorf("check settled bet: %w", err)
	}

	balance, err := s.ledger.FreshBalance(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	reserved, err := s.drafts.Reserved(ctx, req.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("sum reserved drafts: %w", err)
	}
	if balance-reserved < req.Amount {
		return nil, ErrInsufficientFunds
	}

	seed, err := s.newSeed()
	if err != nil {
		return nil, err
	}
	draft := &model.BetDraft{
		BetID:      req.BetID,
		UserID:     req.UserID,
		Amount:     req.Amount,
		Mode:       rules.Mode,
		ServerSeed: seed,
		SeedHash:   fairness.Commit(seed),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.opts.DraftTTL),
	}
	if err := s.drafts.Create(ctx, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// CommitResult is a settled bet.
type CommitResult struct {
	DeductedAmount int64
	RemainingCoins int64
	Mode           model.Mode
	Round          *model.RoundRecord
}

// Commit settles the user's draft betID. The draft is consumed before any
// money moves, so a duplicate commit fails with ErrDraftConsumed and leaves
// the ledger untouched. Once the stake is debited every failure is returned
// as a *ReconciliationError.
func (s *BetService) Commit(ctx context.Context, userID, betID string) (*CommitResult, error) {
	if err := validateBetID(betID); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}

	var (
		draft *model.BetDraft
		rules game.Rules
		debit *model.LedgerEntry
	)
	err := s.locks.WithLockContext(ctx, userID, s.opts.LockTimeout, func() error {
		var err error
		draft, rules, debit, err = s.debitLocked(ctx, userID, betID)
		return err
	})
	if err != nil {
		var recErr *ReconciliationError
		if errors.As(err, &recErr) {
			return nil, err
		}
		return nil, translate(err)
	}

	// Funds have moved. The rest of the settlement must not be abandoned
	// because the client went away.
	ctx = context.WithoutCancel(ctx)
	return s.settle(ctx, draft, rules, debit)
}

// debitLocked runs DRAFTED -> DEBITED.
func (s *BetService) debitLocked(ctx context.Context, userID, betID string) (*model.BetDraft, game.Rules, *model.LedgerEntry, error) {
	consumeCtx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	draft, err := s.drafts.Consume(consumeCtx, betID, userID, s.now())
	cancel()
	if err != nil {
		return nil, game.Rules{}, nil, err
	}
	logState(draft, "consumed")

	rules, ok := s.registry.Get(draft.Mode)
	if !ok {
		return nil, game.Rules{}, nil, fmt.Errorf("%w: %q is not offered", ErrInvalidMode, draft.Mode)
	}

	// The debit is keyed by the draft, so retrying after a timeout cannot
	// take the stake twice.
	var debit *model.LedgerEntry
	err = retry.Do(ctx, "bet_debit", s.opts.Debit, func(ctx context.Context) error {
		var err error
		debit, err = s.ledger.Debit(ctx, userID, draft.Amount, settlementRef(draft), rules.RequiresTicket)
		return retryable(err)
	})
	if err != nil {
		// A lock timeout means the ledger never saw the mutation.
		if err = translate(err); isBusinessError(err) || errors.Is(err, ErrBusy) {
			log.Info().
				Err(err).
				Str("user_id", userID).
				Str("bet_id", betID).
				Msg("Bet debit rejected, draft stays consumed")
			return nil, rules, nil, err
		}
		// The debit may or may not have been applied.
		return nil, rules, nil, s.escalate(ctx, draft, StageDebit, draft.Amount, err)
	}
	logState(draft, "debited")
	return draft, rules, debit, nil
}

// settle runs DEBITED -> RESOLVED -> CREDITED -> RECORDED.
func (s *BetService) settle(ctx context.Context, draft *model.BetDraft, rules game.Rules, debit *model.LedgerEntry) (*CommitResult, error) {
	rec, err := s.generator.Resolve(draft)
	if err != nil {
		return nil, s.compensate(ctx, draft, rules, debit, err)
	}
	rec.PreBalance = debit.BalanceBefore
	rec.TicketConsumed = rules.RequiresTicket
	rec.CreatedAt = s.now()
	logState(draft, "resolved")

	remaining := debit.BalanceAfter
	if credit := rec.Credit(); credit > 0 {
		var entry *model.LedgerEntry
		err := retry.Do(ctx, "round_credit", s.opts.Credit, func(ctx context.Context) error {
			var err error
			entry, err = s.ledger.Credit(ctx, draft.UserID, credit, settlementRef(draft))
			return retryable(err)
		})
		if err != nil {
			return nil, s.escalate(ctx, draft, StageCredit, credit, err)
		}
		remaining = entry.BalanceAfter
	}
	logState(draft, "credited")

	err = retry.Do(ctx, "round_record", s.opts.Record, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
		defer cancel()
		return s.rounds.Create(opCtx, rec)
	})
	if err != nil {
		return nil, s.escalate(ctx, draft, StageRecord, rec.Credit(), err)
	}

	log.Info().
		Str("user_id", rec.UserID).
		Str("bet_id", rec.BetID).
		Str("game_id", rec.GameID).
		Str("mode", string(rec.Mode)).
		Str("result", string(rec.Result)).
		Int64("amount", rec.BetAmount).
		Int64("payout", rec.Payout).
		Int64("rebate", rec.Rebate).
		Int64("remaining", remaining).
		Msg("Round settled")

	return &CommitResult{
		DeductedAmount: draft.Amount,
		RemainingCoins: remaining,
		Mode:           draft.Mode,
		Round:          rec,
	}, nil
}

// compensate rolls back the stake when the round could not be resolved.
func (s *BetService) compensate(ctx context.Context, draft *model.BetDraft, rules game.Rules, debit *model.LedgerEntry, cause error) error {
	err := retry.Do(ctx, "bet_rollback", s.opts.Credit, func(ctx context.Context) error {
		_, err := s.ledger.Rollback(ctx, debit, rules.RequiresTicket)
		return err
	})
	if err != nil {
		return s.escalate(ctx, draft, StageRollback, draft.Amount,
			fmt.Errorf("%w; rollback failed: %v", cause, err))
	}

	log.Error().
		Err(cause).
		Str("user_id", draft.UserID).
		Str("bet_id", draft.BetID).
		Int64("amount", draft.Amount).
		Msg("Round could not be resolved, stake rolled back")
	return &ReconciliationError{BetID: draft.BetID, Stage: StageResolve, Err: cause}
}

// escalate records a reconciliation alert for a settlement that stopped
// after funds moved and returns the matching error.
func (s *BetService) escalate(ctx context.Context, draft *model.BetDraft, stage string, amount int64, cause error) error {
	log.Error().
		Err(cause).
		Str("user_id", draft.UserID).
		Str("bet_id", draft.BetID).
		Str("state", stage).
		Int64("amount", amount).
		Msg("Settlement needs reconciliation")

	alert := &model.ReconciliationAlert{
		BetID:     draft.BetID,
		UserID:    draft.UserID,
		Stage:     stage,
		Amount:    amount,
		Reason:    cause.Error(),
		CreatedAt: s.now(),
	}
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.OpTimeout)
	defer cancel()
	if err := s.alerts.Create(alertCtx, alert); err != nil {
		log.Error().
			Err(err).
			Str("bet_id", draft.BetID).
			Str("state", stage).
			Msg("Failed to store reconciliation alert")
	}
	return &ReconciliationError{BetID: draft.BetID, Stage: stage, Err: cause}
}

// settlementRef identifies one draft's ledger mutations. The seed hash is
// fresh per draft, so a bet id used again later gets a new reference.
func settlementRef(d *model.BetDraft) string {
	return d.BetID + ":" + d.SeedHash
}

// retryable translates a ledger error for retry.Do. Business rejections and
// reference conflicts end the loop.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	err = translate(err)
	if isBusinessError(err) || errors.Is(err, repository.ErrLedgerRefConflict) {
		return retry.Permanent(err)
	}
	return err
}

func logState(d *model.BetDraft, state string) {
	log.Debug().
		Str("user_id", d.UserID).
		Str("bet_id", d.BetID).
		Str("state", state).
		Int64("amount", d.Amount).
		Msg("Settlement transition")
}

// RoundView is a stored round with a fresh verification of it.
type RoundView struct {
	Round        *model.RoundRecord
	Verification *game.Verification
}

// Round returns one of the user's rounds, replayed from its revealed seed.
func (s *BetService) Round(ctx context.Context, userID, gameID string) (*RoundView, error) {
	if gameID == "" {
		return nil, fmt.Errorf("%w: game id is required", ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	rec, err := s.rounds.GetByGameID(ctx, gameID)
	if err != nil {
		return nil, translate(err)
	}
	if rec.UserID != userID {
		return nil, ErrRoundNotFound
	}
	v, err := game.VerifyRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("verify round: %w", err)
	}
	return &RoundView{Round: rec, Verification: v}, nil
}

// History returns the user's latest rounds, newest first.
func (s *BetService) History(ctx context.Context, userID string, limit int) ([]*model.RoundRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.OpTimeout)
	defer cancel()

	rounds, err := s.rounds.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, translate(err)
	}
	return rounds, nil
}

// Verify replays a round from public inputs.
func (s *BetService) Verify(in game.VerifyInput) (*game.Verification, error) {
	if in.DeckSeed == "" || in.DeckHash == "" || in.GameID == "" || in.BetID == "" || in.Amount <= 0 {
		return nil, fmt.Errorf("%w: deckSeed, deckHash, gameId, betId and a positive amount are required", ErrInvalidInput)
	}
	return game.Verify(in)
}

func validateBetID(betID string) error {
	if strings.TrimSpace(betID) == "" {
		return fmt.Errorf("%w: betId is required", ErrInvalidInput)
	}
	if len(betID) > MaxBetIDLength {
		return fmt.Errorf("%w: betId longer than %d", ErrInvalidInput, MaxBetIDLength)
	}
	return nil
}
