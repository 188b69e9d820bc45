// Package domain defines the core domain models for ArchVault.
package domain

import "strings"

// Token is the asset symbol attached to a deposit. It carries no exchange
// semantics; amounts of different tokens are never combined by the ledger's
// callers for display.
type Token string

// Supported tokens.
const (
	TokenBTC   Token = "BTC"
	TokenRunes Token = "RUNES"
	TokenETH   Token = "ETH"
)

// DefaultToken is used when a deposit names no token.
const DefaultToken = TokenBTC

var tokenDecimals = map[Token]int{
	TokenBTC:   8,
	TokenRunes: 0,
	TokenETH:   18,
}

// Tokens returns the supported tokens in menu order.
func Tokens() []Token {
	return []Token{TokenBTC, TokenRunes, TokenETH}
}

// ParseToken normalizes and validates a token symbol.
// An empty symbol yields DefaultToken.
func ParseToken(s string) (Token, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultToken, nil
	}
	t := Token(s)
	if _, ok := tokenDecimals[t]; !ok {
		return "", ErrInvalidInput.WithDetailsf("unsupported token %q", s)
	}
	return t, nil
}

// Decimals returns the number of fractional digits of one whole token.
// Unknown tokens report zero.
func (t Token) Decimals() int {
	return tokenDecimals[t]
}

// String implements fmt.Stringer.
func (t Token) String() string {
	return string(t)
}
