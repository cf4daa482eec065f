// Package card provides the standard 52-card deck used by every trick-taking variant.
// Cards are small immutable values; their text form is "<rank>_of_<suit>"
// (for example "10_of_hearts" or "queen_of_spades").
package card

import (
	"errors"
	"fmt"
	"strings"
)

// Suit is one of the four French suits. The zero value NoSuit means "no suit"
// and is used by variants that play without trump.
type Suit uint8

// Suits.
const (
	NoSuit Suit = iota
	Clubs
	Diamonds
	Spades
	Hearts
)

// Rank is a card rank. Numeric values order ranks from Two (lowest) to Ace (highest).
type Rank uint8

// Ranks.
const (
	Two Rank = iota + 2
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
	Ace
)

// Errors for card parsing.
var (
	ErrInvalidCard = errors.New("invalid card")
	ErrInvalidSuit = errors.New("invalid suit")
)

var suitNames = map[Suit]string{
	Clubs:    "clubs",
	Diamonds: "diamonds",
	Spades:   "spades",
	Hearts:   "hearts",
}

var rankNames = map[Rank]string{
	Two: "2", Three: "3", Four: "4", Five: "5", Six: "6", Seven: "7", Eight: "8",
	Nine: "9", Ten: "10", Jack: "jack", Queen: "queen", King: "king", Ace: "ace",
}

// AllSuits lists the four playable suits in deck order.
var AllSuits = []Suit{Spades, Hearts, Diamonds, Clubs}

// String returns the lowercase suit name, or "none" for NoSuit.
func (s Suit) String() string {
	if name, ok := suitNames[s]; ok {
		return name
	}
	return "none"
}

// Valid reports whether s is one of the four playable suits.
func (s Suit) Valid() bool {
	_, ok := suitNames[s]
	return ok
}

// ParseSuit parses a suit name such as "hearts". Case is ignored.
func ParseSuit(name string) (Suit, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range suitNames {
		if n == name {
			return s, nil
		}
	}
	return NoSuit, fmt.Errorf("%w: %q", ErrInvalidSuit, name)
}

// MarshalText encodes the suit as its name.
func (s Suit) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a suit name; "none" and "" decode to NoSuit.
func (s *Suit) UnmarshalText(text []byte) error {
	str := string(text)
	if str == "" || str == "none" {
		*s = NoSuit
		return nil
	}
	parsed, err := ParseSuit(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// String returns the rank label ("2".."10", "jack", "queen", "king", "ace").
func (r Rank) String() string {
	if name, ok := rankNames[r]; ok {
		return name
	}
	return "?"
}

// Card is a (rank, suit) pair.
type Card struct {
	Rank Rank
	Suit Suit
}

// New returns the card with the given rank and suit.
func New(r Rank, s Suit) Card {
	return Card{Rank: r, Suit: s}
}

// Valid reports whether c is one of the 52 cards of a standard deck.
func (c Card) Valid() bool {
	return c.Suit.Valid() && c.Rank >= Two && c.Rank <= Ace
}

// String returns the text form of the card, e.g. "king_of_clubs".
func (c Card) String() string {
	return c.Rank.String() + "_of_" + c.Suit.String()
}

// Parse decodes a card from its text form.
func Parse(s string) (Card, error) {
	value, suitName, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "_of_")
	if !ok {
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, s)
	}
	suit, err := ParseSuit(suitName)
	if err != nil {
		return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, s)
	}
	for r, name := range rankNames {
		if name == value {
			return Card{Rank: r, Suit: suit}, nil
		}
	}
	return Card{}, fmt.Errorf("%w: %q", ErrInvalidCard, s)
}

// MustParse is like Parse but panics on malformed input. Intended for tests and tables.
func MustParse(s string) Card {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// MarshalText implements encoding.TextMarshaler.
func (c Card) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: rank=%d suit=%d", ErrInvalidCard, c.Rank, c.Suit)
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Card) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
