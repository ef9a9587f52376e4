package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Identifier is a canonical recipient address in E.164 form.
type Identifier struct {
	E164   string `json:"e164"`
	Region string `json:"region"`
}

func (i Identifier) String() string { return i.E164 }

// TokenKind tags a recipient token. An empty kind means the resolver decides,
// trying a group match first and a phone number second.
type TokenKind string

const (
	TokenAuto   TokenKind = ""
	TokenNumber TokenKind = "number"
	TokenGroup  TokenKind = "group"
)

// RecipientToken is one entry of a recipient expression.
type RecipientToken struct {
	Kind  TokenKind `json:"type,omitempty"`
	Value string    `json:"value"`
}

// RecipientExpression is the raw, unresolved recipient input of a broadcast.
type RecipientExpression []RecipientToken

// ParseRecipients splits a comma-delimited string into untyped tokens, dropping empty ones.
func ParseRecipients(raw string) RecipientExpression {
	expr := RecipientExpression{}
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			expr = append(expr, RecipientToken{Value: v})
		}
	}
	return expr
}

// UnmarshalJSON accepts a comma-delimited string, an array of strings, an array of
// {type, value} objects, or a mix of the last two.
func (e *RecipientExpression) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = nil
		return nil
	}

	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*e = ParseRecipients(raw)
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("recipients must be a string or an array: %w", err)
	}

	expr := RecipientExpression{}
	for _, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) > 0 && item[0] == '"' {
			var s string
			if err := json.Unmarshal(item, &s); err != nil {
				return err
			}
			expr = append(expr, ParseRecipients(s)...)
			continue
		}
		var tok RecipientToken
		if err := json.Unmarshal(item, &tok); err != nil {
			return fmt.Errorf("invalid recipient token: %w", err)
		}
		switch tok.Kind {
		case TokenAuto, TokenNumber, TokenGroup:
		default:
			return fmt.Errorf("unknown recipient token type %q", tok.Kind)
		}
		tok.Value = strings.TrimSpace(tok.Value)
		if tok.Value != "" {
			expr = append(expr, tok)
		}
	}
	*e = expr
	return nil
}

// SourceKind says how a recipient entered the resolved set.
type SourceKind string

const (
	SourceDirect SourceKind = "direct"
	SourceGroup  SourceKind = "group"
)

// Provenance is the first source that contributed an identifier.
type Provenance struct {
	Kind      SourceKind `json:"kind"`
	GroupID   string     `json:"group_id,omitempty"`
	GroupName string     `json:"group_name,omitempty"`
}

// Resolution is the deduplicated result of resolving a recipient expression.
type Resolution struct {
	// Identifiers in first-appearance order, each exactly once.
	Identifiers []Identifier
	Provenance  map[string]Provenance // keyed by E164

	// InvalidTokenCount counts tokens that matched no group and did not normalize.
	InvalidTokenCount int
	// InvalidMemberCount counts group members that did not normalize.
	InvalidMemberCount int
	// GroupsMatched counts distinct groups the expression referenced, empty ones included.
	GroupsMatched int
}

func (r *Resolution) Total() int { return len(r.Identifiers) }

// Invalid is the number of inputs that could not contribute a recipient.
func (r *Resolution) Invalid() int { return r.InvalidTokenCount + r.InvalidMemberCount }

// Group is a named recipient list owned by the directory.
type Group struct {
	ID      string
	Name    string
	Members []string // raw member numbers as stored by the directory
}
