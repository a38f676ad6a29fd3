// Package blackjack implements the card rules used to resolve a round.
package blackjack

import (
	"errors"
	"fmt"
	"strconv"

	"faceup-server/internal/model"
)

// Table rules.
const (
	DeckSize       = 52
	Blackjack      = 21
	PlayerStandsAt = 17
	DealerStandsAt = 17 // dealer stands on all 17s, soft or hard
)

var (
	ErrDeckExhausted = errors.New("deck exhausted")
	ErrInvalidCard   = errors.New("invalid card")
)

var suits = [4]byte{'S', 'H', 'D', 'C'}

// Card is a playing card. Rank runs from 1 (ace) to 13 (king).
type Card struct {
	Rank int
	Suit byte
}

// String renders the card as rank then suit, e.g. "AS", "10H", "KD".
func (c Card) String() string {
	var r string
	switch c.Rank {
	case 1:
		r = "A"
	case 11:
		r = "J"
	case 12:
		r = "Q"
	case 13:
		r = "K"
	default:
		r = strconv.Itoa(c.Rank)
	}
	return r + string(c.Suit)
}

// ParseCard is the inverse of Card.String.
func ParseCard(s string) (Card, error) {
	if len(s) < 2 || len(s) > 3 {
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, s)
	}
	suit := s[len(s)-1]
	switch suit {
	case 'S', 'H', 'D', 'C':
	default:
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, s)
	}

	var rank int
	switch r := s[:len(s)-1]; r {
	case "A":
		rank = 1
	case "J":
		rank = 11
	case "Q":
		rank = 12
	case "K":
		rank = 13
	default:
		n, err := strconv.Atoi(r)
		if err != nil || n < 2 || n > 10 {
			return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, s)
		}
		rank = n
	}
	return Card{Rank: rank, Suit: suit}, nil
}

// Value is the card's hard value; aces count 1 here.
func (c Card) Value() int {
	if c.Rank > 10 {
		return 10
	}
	return c.Rank
}

// NewDeck returns the 52 cards in a fixed order: suits S, H, D, C, each ace to king.
func NewDeck() []Card {
	deck := make([]Card, 0, DeckSize)
	for _, s := range suits {
		for r := 1; r <= 13; r++ {
			deck = append(deck, Card{Rank: r, Suit: s})
		}
	}
	return deck
}

// Arrange reorders a fresh deck by perm, where perm[i] is the index in
// NewDeck of the i-th card dealt.
func Arrange(perm []int) ([]Card, error) {
	base := NewDeck()
	if len(perm) != len(base) {
		return nil, fmt.Errorf("permutation has %d entries, want %d", len(perm), len(base))
	}
	out := make([]Card, len(perm))
	for i, p := range perm {
		if p < 0 || p >= len(base) {
			return nil, fmt.Errorf("permutation index %d out of range", p)
		}
		out[i] = base[p]
	}
	return out, nil
}

// Total returns the best total for hand and whether an ace is counted as 11.
func Total(hand []Card) (int, bool) {
	total, aces := 0, 0
	for _, c := range hand {
		total += c.Value()
		if c.Rank == 1 {
			aces++
		}
	}
	if aces > 0 && total+10 <= Blackjack {
		return total + 10, true
	}
	return total, false
}

// IsNatural reports whether hand is a two-card 21.
func IsNatural(hand []Card) bool {
	t, _ := Total(hand)
	return len(hand) == 2 && t == Blackjack
}

// Outcome is a fully played round.
type Outcome struct {
	Player          []Card
	Dealer          []Card
	PlayerTotal     int
	DealerTotal     int
	PlayerBlackjack bool
	DealerBlackjack bool
	Result          model.RoundResult
}

type shoe struct {
	cards []Card
	pos   int
}

func (s *shoe) draw() (Card, error) {
	if s.pos >= len(s.cards) {
		return Card{}, ErrDeckExhausted
	}
	c := s.cards[s.pos]
	s.pos++
	return c, nil
}

// Play deals from the top of deck in the order player, dealer, player, dealer,
// settles naturals, then plays the player (hit below 17) and the dealer
// (stand on all 17s) and compares.
func Play(deck []Card) (*Outcome, error) {
	s := &shoe{cards: deck}
	o := &Outcome{}

	for i := 0; i < 2; i++ {
		c, err := s.draw()
		if err != nil {
			return nil, err
		}
		o.Player = append(o.Player, c)
		if c, err = s.draw(); err != nil {
			return nil, err
		}
		o.Dealer = append(o.Dealer, c)
	}

	o.PlayerBlackjack = IsNatural(o.Player)
	o.DealerBlackjack = IsNatural(o.Dealer)

	switch {
	case o.PlayerBlackjack && o.DealerBlackjack:
		o.Result = model.ResultPush
	case o.PlayerBlackjack:
		o.Result = model.ResultWin
	case o.DealerBlackjack:
		o.Result = model.ResultLose
	}
	if o.Result != "" {
		o.PlayerTotal, _ = Total(o.Player)
		o.DealerTotal, _ = Total(o.Dealer)
		return o, nil
	}

	if err := hitUntil(s, &o.Player, PlayerStandsAt); err != nil {
		return nil, err
	}
	o.PlayerTotal, _ = Total(o.Player)
	if o.PlayerTotal > Blackjack {
		o.DealerTotal, _ = Total(o.Dealer)
		o.Result = model.ResultLose
		return o, nil
	}

	if err := hitUntil(s, &o.Dealer, DealerStandsAt); err != nil {
		return nil, err
	}
	o.DealerTotal, _ = Total(o.Dealer)

	switch {
	case o.DealerTotal > Blackjack, o.PlayerTotal > o.DealerTotal:
		o.Result = model.ResultWin
	case o.PlayerTotal < o.DealerTotal:
		o.Result = model.ResultLose
	default:
		o.Result = model.ResultPush
	}
	return o, nil
}

func hitUntil(s *shoe, hand *[]Card, standAt int) error {
	for {
		t, _ := Total(*hand)
		if t >= standAt {
			return nil
		}
		c, err := s.draw()
		if err != nil {
			return err
		}
		*hand = append(*hand, c)
	}
}

// Strings renders a hand for storage.
func Strings(hand []Card) []string {
	out := make([]string, len(hand))
	for i, c := range hand {
		out[i] = c.String()
	}
	return out
}
