package card

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
)

// DeckSize is the number of cards in a standard deck.
const DeckSize = 52

// ErrNotEnoughCards is returned when a deal would need more cards than the deck holds.
var ErrNotEnoughCards = errors.New("not enough cards in deck")

// NewDeck returns the 52 cards in a fixed order (suit by suit, Two to Ace).
func NewDeck() []Card {
	deck := make([]Card, 0, DeckSize)
	for _, s := range AllSuits {
		for r := Two; r <= Ace; r++ {
			deck = append(deck, Card{Rank: r, Suit: s})
		}
	}
	return deck
}

// Shuffle permutes deck in place with an unbiased Fisher-Yates shuffle.
func Shuffle(deck []Card, rng *rand.Rand) {
	for i := len(deck) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		deck[i], deck[j] = deck[j], deck[i]
	}
}

// ShuffledDeck returns a freshly shuffled 52-card deck.
func ShuffledDeck(rng *rand.Rand) []Card {
	deck := NewDeck()
	Shuffle(deck, rng)
	return deck
}

// Deal hands out handSize cards to each player, consuming the deck front to back
// in player order: the first player gets deck[0:handSize], the second the next
// handSize cards, and so on. Cards past players*handSize are left undealt.
func Deal(deck []Card, playerIDs []string, handSize int) (map[string][]Card, error) {
	if handSize < 0 {
		return nil, fmt.Errorf("invalid hand size %d", handSize)
	}
	need := len(playerIDs) * handSize
	if need > len(deck) {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrNotEnoughCards, need, len(deck))
	}

	hands := make(map[string][]Card, len(playerIDs))
	for i, id := range playerIDs {
		start := i * handSize
		hand := make([]Card, handSize)
		copy(hand, deck[start:start+handSize])
		hands[id] = hand
	}
	return hands, nil
}

// Sort orders a hand by suit (following suitOrder) and then by rank ascending.
// Suits missing from suitOrder sort last.
func Sort(hand []Card, suitOrder []Suit) {
	priority := make(map[Suit]int, len(suitOrder))
	for i, s := range suitOrder {
		priority[s] = i
	}
	pri := func(s Suit) int {
		if p, ok := priority[s]; ok {
			return p
		}
		return len(suitOrder)
	}
	sort.SliceStable(hand, func(i, j int) bool {
		a, b := hand[i], hand[j]
		if a.Suit != b.Suit {
			return pri(a.Suit) < pri(b.Suit)
		}
		return a.Rank < b.Rank
	})
}

// Contains reports whether hand holds c.
func Contains(hand []Card, c Card) bool {
	return indexOf(hand, c) >= 0
}

// HasSuit reports whether hand holds at least one card of suit s.
func HasSuit(hand []Card, s Suit) bool {
	for _, c := range hand {
		if c.Suit == s {
			return true
		}
	}
	return false
}

// OnlySuit reports whether every card in a non-empty hand is of suit s.
func OnlySuit(hand []Card, s Suit) bool {
	if len(hand) == 0 {
		return false
	}
	for _, c := range hand {
		if c.Suit != s {
			return false
		}
	}
	return true
}

// Remove returns hand without c, preserving order. The second result is false
// when c was not in the hand. The input slice is not modified.
func Remove(hand []Card, c Card) ([]Card, bool) {
	idx := indexOf(hand, c)
	if idx < 0 {
		return hand, false
	}
	out := make([]Card, 0, len(hand)-1)
	out = append(out, hand[:idx]...)
	out = append(out, hand[idx+1:]...)
	return out, true
}

func indexOf(hand []Card, c Card) int {
	for i, h := range hand {
		if h == c {
			return i
		}
	}
	return -1
}
