package cypher

import (
	"fmt"

	"github.com/orneryd/graphlite/pkg/status"
)

// TokenType classifies a token.
type TokenType int

const (
	EOF TokenType = iota
	Identifier
	Parameter
	Int
	Float
	Text
	ParenOpen
	ParenClose
	BracketOpen
	BracketClose
	BraceOpen
	BraceClose
	Colon
	Comma
	Dot
	Dash
	Equals
	NotEquals
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
	Match
	Where
	Create
	Set
	Delete
	Return
	And
	Or
	Not
	True
	False
	Null
	IDFunc
	LabelFunc
	Unknown
)

var tokenNames = map[TokenType]string{
	EOF:                "end of query",
	Identifier:         "identifier",
	Parameter:          "parameter",
	Int:                "integer",
	Float:              "real",
	Text:               "text",
	ParenOpen:          "(",
	ParenClose:         ")",
	BracketOpen:        "[",
	BracketClose:       "]",
	BraceOpen:          "{",
	BraceClose:         "}",
	Colon:              ":",
	Comma:              ",",
	Dot:                ".",
	Dash:               "-",
	Equals:             "=",
	NotEquals:          "<>",
	LessThan:           "<",
	LessThanOrEqual:    "<=",
	GreaterThan:        ">",
	GreaterThanOrEqual: ">=",
	Match:              "MATCH",
	Where:              "WHERE",
	Create:             "CREATE",
	Set:                "SET",
	Delete:             "DELETE",
	Return:             "RETURN",
	And:                "AND",
	Or:                 "OR",
	Not:                "NOT",
	True:               "TRUE",
	False:              "FALSE",
	Null:               "NULL",
	IDFunc:             "ID",
	LabelFunc:          "LABEL",
	Unknown:            "unknown",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// keywords are case sensitive: "match" is an identifier.
var keywords = map[string]TokenType{
	"MATCH":  Match,
	"WHERE":  Where,
	"CREATE": Create,
	"SET":    Set,
	"DELETE": Delete,
	"RETURN": Return,
	"AND":    And,
	"OR":     Or,
	"NOT":    Not,
	"TRUE":   True,
	"FALSE":  False,
	"NULL":   Null,
	"ID":     IDFunc,
	"LABEL":  LabelFunc,
}

// Token is a lexical unit of a query.
type Token struct {
	Type  TokenType
	Value string
	Pos   status.Position
	// End is the byte offset just past the token.
	End int
}

func (token Token) String() string {
	switch token.Type {
	case Identifier, Int, Float, Unknown:
		return fmt.Sprintf("%s(%s)", token.Type, token.Value)
	case Text:
		return fmt.Sprintf("text('%s')", token.Value)
	case Parameter:
		return "$" + token.Value
	}
	return token.Type.String()
}

// Describe renders the token for error messages.
func (token Token) Describe() string {
	switch token.Type {
	case EOF:
		return "end of query"
	case Identifier, Int, Float:
		return fmt.Sprintf("%q", token.Value)
	case Text:
		return fmt.Sprintf("'%s'", token.Value)
	case Parameter:
		return fmt.Sprintf("$%s", token.Value)
	}
	return fmt.Sprintf("%q", token.Type.String())
}

// Lexer splits query text into tokens.
type Lexer struct {
	query        string
	position     int
	readPosition int
	ch           byte
	line         int
	lineStart    int
}

// NewLexer returns a lexer positioned at the start of query.
func NewLexer(query string) *Lexer {
	lexer := &Lexer{query: query, line: 1}
	lexer.readChar()
	return lexer
}

func (lexer *Lexer) readChar() {
	if lexer.ch == '\n' {
		lexer.line++
		lexer.lineStart = lexer.readPosition
	}
	if lexer.readPosition >= len(lexer.query) {
		lexer.ch = 0
	} else {
		lexer.ch = lexer.query[lexer.readPosition]
	}
	lexer.position = lexer.readPosition
	lexer.readPosition++
}

func (lexer *Lexer) peekChar() byte {
	if lexer.readPosition >= len(lexer.query) {
		return 0
	}
	return lexer.query[lexer.readPosition]
}

func (lexer *Lexer) pos() status.Position {
	return status.Position{
		Offset: lexer.position,
		Line:   lexer.line,
		Column: lexer.position - lexer.lineStart + 1,
	}
}

func (lexer *Lexer) atEnd() bool {
	return lexer.position >= len(lexer.query)
}

// NextToken scans the next token. Malformed input yields an error.
func (lexer *Lexer) NextToken() (Token, error) {
	lexer.skipWhitespace()

	start := lexer.pos()
	token := Token{Pos: start}
	if lexer.atEnd() {
		token.Type = EOF
		token.End = lexer.position
		return token, nil
	}

	single := map[byte]TokenType{
		'(': ParenOpen, ')': ParenClose,
		'[': BracketOpen, ']': BracketClose,
		'{': BraceOpen, '}': BraceClose,
		':': Colon, ',': Comma, '.': Dot,
		'-': Dash, '=': Equals,
	}

	switch ch := lexer.ch; {
	case single[ch] != EOF:
		token.Type = single[ch]
		token.Value = string(ch)
		lexer.readChar()
	case ch == '<':
		lexer.readChar()
		switch lexer.ch {
		case '=':
			token.Type, token.Value = LessThanOrEqual, "<="
			lexer.readChar()
		case '>':
			token.Type, token.Value = NotEquals, "<>"
			lexer.readChar()
		default:
			token.Type, token.Value = LessThan, "<"
		}
	case ch == '>':
		lexer.readChar()
		if lexer.ch == '=' {
			token.Type, token.Value = GreaterThanOrEqual, ">="
			lexer.readChar()
		} else {
			token.Type, token.Value = GreaterThan, ">"
		}
	case ch == '\'':
		text, err := lexer.readText()
		if err != nil {
			return token, err
		}
		token.Type, token.Value = Text, text
	case ch == '$':
		lexer.readChar()
		if !isAlpha(lexer.ch) {
			return token, status.At(start, "expected parameter name after '$'")
		}
		token.Type, token.Value = Parameter, lexer.readIdentifier()
	case isDigit(ch):
		token.Type, token.Value = lexer.readNumber()
	case isAlpha(ch):
		word := lexer.readIdentifier()
		if kw, ok := keywords[word]; ok {
			token.Type = kw
		} else {
			token.Type = Identifier
		}
		token.Value = word
	default:
		return token, status.At(start, "unexpected character %q", rune(ch))
	}
	token.End = lexer.position
	return token, nil
}

// Tokenize scans the whole query.
func Tokenize(query string) ([]Token, error) {
	lexer := NewLexer(query)
	var tokens []Token
	for {
		token, err := lexer.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
		if token.Type == EOF {
			return tokens, nil
		}
	}
}

func (lexer *Lexer) skipWhitespace() {
	for lexer.ch == ' ' || lexer.ch == '\t' || lexer.ch == '\n' || lexer.ch == '\r' {
		lexer.readChar()
	}
}

func (lexer *Lexer) readIdentifier() string {
	position := lexer.position
	for isAlphaNumeric(lexer.ch) {
		lexer.readChar()
	}
	return lexer.query[position:lexer.position]
}

// readText reads a single-quoted literal. Text may not span lines.
func (lexer *Lexer) readText() (string, error) {
	start := lexer.pos()
	lexer.readChar() // skip opening quote
	position := lexer.position
	for lexer.ch != '\'' {
		if lexer.atEnd() || lexer.ch == '\n' || lexer.ch == '\r' {
			return "", status.At(start, "unterminated text literal")
		}
		lexer.readChar()
	}
	text := lexer.query[position:lexer.position]
	lexer.readChar() // skip closing quote
	return text, nil
}

func (lexer *Lexer) readNumber() (TokenType, string) {
	position := lexer.position
	for isDigit(lexer.ch) {
		lexer.readChar()
	}
	if lexer.ch == '.' && isDigit(lexer.peekChar()) {
		lexer.readChar() // consume '.'
		for isDigit(lexer.ch) {
			lexer.readChar()
		}
		return Float, lexer.query[position:lexer.position]
	}
	return Int, lexer.query[position:lexer.position]
}

func isAlpha(ch byte) bool {
	return ('a' <= ch && ch <= 'z') || ('A' <= ch && ch <= 'Z')
}

func isAlphaNumeric(ch byte) bool {
	return isAlpha(ch) || ch == '_' || isDigit(ch)
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
