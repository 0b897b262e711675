package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/orneryd/graphlite/pkg/graphlite"
	"github.com/orneryd/graphlite/pkg/value"
)

// parseParams turns name=literal pairs from --param flags into bindings.
func parseParams(pairs []string) (graphlite.Params, error) {
	params := graphlite.Params{}
	for _, pair := range pairs {
		name, literal, ok := strings.Cut(pair, "=")
		name = strings.TrimPrefix(strings.TrimSpace(name), "$")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q: want name=value", pair)
		}
		v, err := parseLiteral(literal)
		if err != nil {
			return nil, fmt.Errorf("parameter $%s: %w", name, err)
		}
		params[name] = v
	}
	return params, nil
}

// parseLiteral reads a value in the form value.Value.String prints it:
// #7 is an ID, 'x' is text, x'00ff' is a blob. Anything unrecognised is
// taken as bare text.
func parseLiteral(s string) (value.Value, error) {
	s = strings.TrimSpace(s)
	switch upper := strings.ToUpper(s); {
	case upper == "NULL":
		return value.Null, nil
	case upper == "TRUE":
		return value.Boolean(true), nil
	case upper == "FALSE":
		return value.Boolean(false), nil
	case strings.HasPrefix(s, "#"):
		id, err := strconv.ParseUint(s[1:], 10, 64)
		if err != nil {
			return value.Null, fmt.Errorf("invalid id %q", s)
		}
		return value.ID(id), nil
	case len(s) >= 3 && (s[0] == 'x' || s[0] == 'X') && s[1] == '\'' && s[len(s)-1] == '\'':
		b, err := hex.DecodeString(s[2 : len(s)-1])
		if err != nil {
			return value.Null, fmt.Errorf("invalid blob %q: %w", s, err)
		}
		return value.Blob(b), nil
	case len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'':
		return value.TextChecked(s[1 : len(s)-1])
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return value.Integer(i), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return value.Real(f), nil
	}
	return value.TextChecked(s)
}
