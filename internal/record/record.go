// Package record encodes the persisted move record of a match as PGN.
//
// Every ply carries a clock annotation {[%clk ±H:MM:SS.mmm]} holding the
// mover's remaining time minus the time limit, which is the negated sum of
// that side's thinking time so far.
package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
)

var ErrMalformed = errors.New("malformed move record")

const (
	ResultWhite      = "1-0"
	ResultBlack      = "0-1"
	ResultDraw       = "1/2-1/2"
	ResultInProgress = "*"
)

type Tag struct {
	Name  string
	Value string
}

// Header keeps tag pairs in insertion order.
type Header []Tag

func (h Header) Get(name string) (string, bool) {
	for _, t := range h {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// Set replaces an existing tag in place or appends a new one.
func (h *Header) Set(name, value string) {
	for i := range *h {
		if (*h)[i].Name == name {
			(*h)[i].Value = value
			return
		}
	}
	*h = append(*h, Tag{Name: name, Value: value})
}

type Ply struct {
	SAN   string
	Clock time.Duration
}

type Record struct {
	Header Header
	Plies  []Ply
}

func (r *Record) Result() string {
	if v, ok := r.Header.Get("Result"); ok && isResult(v) {
		return v
	}
	return ResultInProgress
}

// Offsets returns the clock annotations in ply order.
func (r *Record) Offsets() []time.Duration {
	out := make([]time.Duration, len(r.Plies))
	for i, p := range r.Plies {
		out[i] = p.Clock
	}
	return out
}

func (r *Record) SANs() []string {
	out := make([]string, len(r.Plies))
	for i, p := range r.Plies {
		out[i] = p.SAN
	}
	return out
}

func Encode(r *Record) string {
	var b strings.Builder
	for _, t := range r.Header {
		fmt.Fprintf(&b, "[%s \"%s\"]\n", t.Name, tagValue(t.Value))
	}
	b.WriteString("\n")
	for i, p := range r.Plies {
		if i%2 == 0 {
			fmt.Fprintf(&b, "%d. ", i/2+1)
		}
		fmt.Fprintf(&b, "%s {[%%clk %s]} ", p.SAN, FormatClock(p.Clock))
	}
	b.WriteString(r.Result())
	b.WriteString("\n")
	return b.String()
}

// Decode reads a stored record with the chess library's PGN tokenizer and
// parser. Tag pairs keep their written order and every ply must carry a
// clock command.
func Decode(raw string) (*Record, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if !strings.HasPrefix(text, "[") {
		return nil, fmt.Errorf("%w: missing tag pairs", ErrMalformed)
	}
	fields := strings.Fields(text)
	if !isResult(fields[len(fields)-1]) {
		return nil, fmt.Errorf("%w: missing result token", ErrMalformed)
	}

	tokens, err := nchess.TokenizeGame(&nchess.GameScanned{Raw: text})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rec := &Record{}
	for i, tok := range tokens {
		if tok.Error != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, tok.Error)
		}
		if tok.Type == nchess.RESULT && i != len(tokens)-1 {
			return nil, fmt.Errorf("%w: text after result", ErrMalformed)
		}
		if tok.Type == nchess.TagValue && i > 0 && tokens[i-1].Type == nchess.TagKey {
			rec.Header = append(rec.Header, Tag{Name: tokens[i-1].Value, Value: tok.Value})
		}
	}

	game, err := nchess.NewParser(tokens).Parse()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	moves := game.Moves()
	positions := game.Positions()
	if len(positions) <= len(moves) {
		return nil, fmt.Errorf("%w: incomplete move tree", ErrMalformed)
	}
	rec.Plies = make([]Ply, 0, len(moves))
	for i, mv := range moves {
		clk, ok := mv.GetCommand("clk")
		if !ok {
			return nil, fmt.Errorf("%w: ply %d has no clock", ErrMalformed, i+1)
		}
		d, err := ParseClock(clk)
		if err != nil {
			return nil, err
		}
		rec.Plies = append(rec.Plies, Ply{
			SAN:   nchess.AlgebraicNotation{}.Encode(positions[i], mv),
			Clock: d,
		})
	}
	return rec, nil
}

func isResult(s string) bool {
	switch s {
	case ResultWhite, ResultBlack, ResultDraw, ResultInProgress:
		return true
	}
	return false
}

// FormatClock renders a signed offset as ±H:MM:SS.mmm.
func FormatClock(d time.Duration) string {
	sign := "+"
	if d < 0 {
		sign = "-"
		d = -d
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%s%d:%02d:%02d.%03d", sign, h, m, s, ms)
}

func ParseClock(s string) (time.Duration, error) {
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: clock %q", ErrMalformed, s)
	}
	h, err1 := strconv.ParseInt(parts[0], 10, 64)
	m, err2 := strconv.ParseInt(parts[1], 10, 64)
	secPart, fracPart, _ := strings.Cut(parts[2], ".")
	sec, err3 := strconv.ParseInt(secPart, 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || m > 59 || sec > 59 {
		return 0, fmt.Errorf("%w: clock %q", ErrMalformed, s)
	}
	var ms int64
	if fracPart != "" {
		for len(fracPart) < 3 {
			fracPart += "0"
		}
		v, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: clock %q", ErrMalformed, s)
		}
		ms = v
	}
	d := time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second + time.Duration(ms)*time.Millisecond
	if neg {
		d = -d
	}
	return d, nil
}

// tagValue keeps a value inside its quotes. PGN tag values have no escape
// sequence the tokenizer honours, so double quotes become single quotes.
func tagValue(s string) string {
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
