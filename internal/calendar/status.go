package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DayStatus represents the type of day as reported by isdayoff.ru
type DayStatus int

const (
	StatusWorkingDay DayStatus = iota + 1
	StatusNonWorkingDay
	StatusShortDay
	StatusPandemicWorkingDay

	// Whole-response statuses: the remote rejected the request as a whole.
	// They never appear inside a per-day sequence.
	StatusInvalidDate
	StatusNotFound
	StatusServiceError
)

var (
	// ErrUnknownCode means the payload contains a status code outside the known set
	ErrUnknownCode = errors.New("unknown status code")

	// ErrLengthMismatch means a per-day sequence does not cover the requested days
	ErrLengthMismatch = errors.New("day sequence length mismatch")
)

var statusCodes = map[DayStatus]string{
	StatusWorkingDay:         "0",
	StatusNonWorkingDay:      "1",
	StatusShortDay:           "2",
	StatusPandemicWorkingDay: "4",
	StatusInvalidDate:        "100",
	StatusNotFound:           "101",
	StatusServiceError:       "199",
}

var statusNames = map[DayStatus]string{
	StatusWorkingDay:         "working",
	StatusNonWorkingDay:      "non-working",
	StatusShortDay:           "short",
	StatusPandemicWorkingDay: "pandemic-working",
	StatusInvalidDate:        "invalid-date",
	StatusNotFound:           "not-found",
	StatusServiceError:       "service-error",
}

// UnknownCodeError reports an unrecognized code and where it was found
type UnknownCodeError struct {
	Code     string
	Position int // index in the day sequence, -1 for a whole response
}

func (e *UnknownCodeError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("unknown status code %q", e.Code)
	}
	return fmt.Sprintf("unknown status code %q at position %d", e.Code, e.Position)
}

func (e *UnknownCodeError) Unwrap() error {
	return ErrUnknownCode
}

// ParseStatus decodes a single wire code
func ParseStatus(code string) (DayStatus, error) {
	for status, c := range statusCodes {
		if c == code {
			return status, nil
		}
	}
	return 0, &UnknownCodeError{Code: code, Position: -1}
}

// ParseStatusName decodes a status by its name, e.g. "working" or "short"
func ParseStatusName(name string) (DayStatus, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for status, n := range statusNames {
		if n == name {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown day status %q", name)
}

// Code returns the wire code of the status
func (s DayStatus) Code() string {
	return statusCodes[s]
}

func (s DayStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("DayStatus(%d)", int(s))
}

// IsError reports whether s is one of the whole-response error statuses
func (s DayStatus) IsError() bool {
	return s == StatusInvalidDate || s == StatusNotFound || s == StatusServiceError
}

// IsWorkingDay answers Yes for working, short and pandemic-working days,
// No for non-working days and Unknown for error statuses.
func (s DayStatus) IsWorkingDay() Tristate {
	switch s {
	case StatusWorkingDay, StatusShortDay, StatusPandemicWorkingDay:
		return Yes
	case StatusNonWorkingDay:
		return No
	default:
		return Unknown
	}
}

// Response is a decoded remote answer: either a per-day code sequence
// or a whole-response error status.
type Response struct {
	Codes  string
	Status DayStatus // set only when the remote rejected the request
}

// Failed reports whether the remote answered with an error status
func (r Response) Failed() bool {
	return r.Status.IsError()
}

// ParseResponse classifies a remote body expected to describe days consecutive days.
// A body of exactly days per-day codes is a sequence; a body equal to one of
// the error codes is a whole-response status; anything else is rejected.
func ParseResponse(body string, days int) (Response, error) {
	body = strings.TrimSpace(body)

	if len(body) == days && isDaySequence(body) {
		return Response{Codes: body}, nil
	}

	if status, err := ParseStatus(body); err == nil && status.IsError() {
		return Response{Status: status}, nil
	}

	for i, c := range body {
		if !isDayCode(c) {
			return Response{}, &UnknownCodeError{Code: string(c), Position: i}
		}
	}

	return Response{}, fmt.Errorf("%w: expected %d, got %d", ErrLengthMismatch, days, len(body))
}

// DecodeDays expands a per-day code sequence into dated statuses starting at from
func DecodeDays(codes string, from time.Time) ([]Day, error) {
	days := make([]Day, 0, len(codes))
	for i, c := range codes {
		if !isDayCode(c) {
			return nil, &UnknownCodeError{Code: string(c), Position: i}
		}
		status, err := ParseStatus(string(c))
		if err != nil {
			return nil, err
		}
		days = append(days, Day{
			Date:   from.AddDate(0, 0, i),
			Status: status,
		})
	}
	return days, nil
}

func isDayCode(c rune) bool {
	return c == '0' || c == '1' || c == '2' || c == '4'
}

func isDaySequence(s string) bool {
	for _, c := range s {
		if !isDayCode(c) {
			return false
		}
	}
	return true
}
