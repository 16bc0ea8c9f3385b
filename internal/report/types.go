package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SlotsPerDay is the number of half-hour time blocks in a day.
const SlotsPerDay = 48

// DateLayout is the calendar date format used by the report endpoint.
const DateLayout = "2006-01-02"

// EventCount is one detected event label and how often it occurred.
type EventCount struct {
	Event string `json:"event"`
	Count int    `json:"count"`
}

// TimeBlock is one half-hour slot. Time is "HH-MM".
type TimeBlock struct {
	Time   string       `json:"time"`
	Events []EventCount `json:"events"`
}

// IsEmpty reports whether no event was recorded in the slot.
func (b TimeBlock) IsEmpty() bool {
	return len(b.Events) == 0
}

// DisplayTime returns the slot start as "HH:MM".
func (b TimeBlock) DisplayTime() string {
	return strings.Replace(b.Time, "-", ":", 1)
}

// Hour returns the slot's hour (0-23), or -1 if Time is malformed.
func (b TimeBlock) Hour() int {
	h, _, ok := strings.Cut(b.Time, "-")
	if !ok {
		return -1
	}
	n, err := strconv.Atoi(h)
	if err != nil || n < 0 || n > 23 {
		return -1
	}
	return n
}

// EventCount returns the sum of event counts in the slot.
func (b TimeBlock) EventCount() int {
	total := 0
	for _, e := range b.Events {
		total += e.Count
	}
	return total
}

// SlotTime returns the "HH-MM" key for slot i (0..47).
func SlotTime(i int) string {
	return fmt.Sprintf("%02d-%02d", i/2, (i%2)*30)
}

// TimeBlocks maps "HH-MM" to the events in that slot. A nil slice means
// the slot is empty.
//
// The wire form is an object keyed by slot; an array of TimeBlock is also
// accepted.
type TimeBlocks map[string][]EventCount

// UnmarshalJSON implements json.Unmarshaler.
func (tb *TimeBlocks) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*tb = nil
		return nil
	}

	switch data[0] {
	case '{':
		var m map[string][]EventCount
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTimeBlocks, err)
		}
		*tb = m
	case '[':
		var list []TimeBlock
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTimeBlocks, err)
		}
		m := make(map[string][]EventCount, len(list))
		for _, b := range list {
			m[b.Time] = b.Events
		}
		*tb = m
	default:
		return ErrInvalidTimeBlocks
	}
	return nil
}

// Report is one device's behaviour summary for one calendar day.
type Report struct {
	DeviceID       string       `json:"device_id"`
	Date           string       `json:"date"`
	SummaryRanking []EventCount `json:"summary_ranking"`
	TimeBlocks     TimeBlocks   `json:"time_blocks"`
}

// TotalEventCount sums the counts in the summary ranking.
func (r *Report) TotalEventCount() int {
	total := 0
	for _, e := range r.SummaryRanking {
		total += e.Count
	}
	return total
}

// TopRanking returns at most n ranking entries, in ranking order.
func (r *Report) TopRanking(n int) []EventCount {
	if n < 0 {
		n = 0
	}
	if n > len(r.SummaryRanking) {
		n = len(r.SummaryRanking)
	}
	out := make([]EventCount, n)
	copy(out, r.SummaryRanking[:n])
	return out
}

// SortedTimeBlocks returns all 48 slots in time order. Slots missing from
// the report are returned empty.
func (r *Report) SortedTimeBlocks() []TimeBlock {
	blocks := make([]TimeBlock, SlotsPerDay)
	for i := range blocks {
		t := SlotTime(i)
		blocks[i] = TimeBlock{Time: t, Events: r.TimeBlocks[t]}
	}
	return blocks
}

// ActiveTimeBlocks returns the non-empty slots in time order.
func (r *Report) ActiveTimeBlocks() []TimeBlock {
	var active []TimeBlock
	for _, b := range r.SortedTimeBlocks() {
		if !b.IsEmpty() {
			active = append(active, b)
		}
	}
	return active
}

// Block returns the slot with the given "HH-MM" key.
func (r *Report) Block(time string) (TimeBlock, bool) {
	events, ok := r.TimeBlocks[time]
	return TimeBlock{Time: time, Events: events}, ok
}
