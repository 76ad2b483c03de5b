package record

import (
	"strconv"
	"strings"
	"time"
)

const (
	EventName     = "Checkmate Chess Game"
	AnnotatorName = "Checkmate"
	Anonymous     = "Anonymous"

	TerminationNone      = "unterminated"
	TerminationNormal    = "normal"
	TerminationTime      = "time forfeit"
	TerminationAbandoned = "abandoned"
)

// HeaderInfo describes a match at the moment both seats are filled.
type HeaderInfo struct {
	Site      string
	White     string
	Black     string
	Start     time.Time
	TimeLimit int // seconds, zero when the clock counts up
}

// NewHeader builds the start-of-match tag list.
func NewHeader(info HeaderInfo) Header {
	tc := "-"
	if info.TimeLimit > 0 {
		tc = strconv.Itoa(info.TimeLimit)
	}
	start := info.Start.UTC()
	return Header{
		{Name: "Event", Value: EventName},
		{Name: "Site", Value: info.Site},
		{Name: "Date", Value: start.Format("2006.01.02")},
		{Name: "Round", Value: "1"},
		{Name: "White", Value: displayName(info.White)},
		{Name: "Black", Value: displayName(info.Black)},
		{Name: "Result", Value: ResultInProgress},
		{Name: "Annotator", Value: AnnotatorName},
		{Name: "Time", Value: start.Format("15:04:05")},
		{Name: "TimeControl", Value: tc},
		{Name: "Termination", Value: TerminationNone},
		{Name: "Mode", Value: "ICS"},
	}
}

// Start creates the record written when a match starts.
func Start(info HeaderInfo) *Record {
	return &Record{Header: NewHeader(info)}
}

// Conclude writes the final result and termination reason.
func (r *Record) Conclude(result, termination string) {
	r.Header.Set("Result", result)
	r.Header.Set("Termination", termination)
}

func displayName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return Anonymous
	}
	return s
}
