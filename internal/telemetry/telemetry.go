// Package telemetry derives typing-behavior signals from note edits.
//
// A Tracker is fed every change to the note field. It counts a hesitation
// whenever more than HesitationGap passes between two character additions,
// and computes a typing speed in characters per minute from the first
// addition to the moment the speed is read.
package telemetry

import (
	"math"
	"sync"
	"time"
	"unicode/utf8"
)

// HesitationGap is the pause between additions that counts as a hesitation.
const HesitationGap = 2000 * time.Millisecond

// Tracker accumulates typing telemetry for one note. It is safe for
// concurrent use.
type Tracker struct {
	mu          sync.Mutex
	length      int
	chars       int
	hesitations int
	started     time.Time
	lastAdd     time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe records the note's new content at time at.
func (t *Tracker) Observe(text string, at time.Time) {
	t.ObserveLength(utf8.RuneCountInString(text), at)
}

// ObserveLength records a change when only the new length is known.
// Deletions update the character count and nothing else.
func (t *Tracker) ObserveLength(length int, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if length > t.length {
		if !t.lastAdd.IsZero() && at.Sub(t.lastAdd) > HesitationGap {
			t.hesitations++
		}
		t.lastAdd = at
		if t.started.IsZero() {
			t.started = at
		}
	}
	t.chars = length
	t.length = length
}

// Reset clears all telemetry, e.g. when a predefined note replaces typed text.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	*t = Tracker{}
}

// HesitationCount returns the number of hesitations seen so far.
func (t *Tracker) HesitationCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hesitations
}

// TypingSpeedCPM returns the typing speed at now, or nil when nothing was
// typed or no time has elapsed.
func (t *Tracker) TypingSpeedCPM(now time.Time) *int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cpm(t.chars, t.started, now)
}

// Summary is the telemetry attached to a screening request.
type Summary struct {
	TypingSpeedCPM  *int `json:"typingSpeedCpm,omitempty"`
	HesitationCount *int `json:"hesitationCount,omitempty"`
}

// Summary snapshots the tracker at now.
func (t *Tracker) Summary(now time.Time) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.hesitations
	return Summary{
		TypingSpeedCPM:  cpm(t.chars, t.started, now),
		HesitationCount: &h,
	}
}

// Sample is one recorded edit: the note length after the edit and when it
// happened.
type Sample struct {
	At     time.Time `json:"at"`
	Length int       `json:"length"`
}

// Summarize replays samples in order and reads the speed at the last one.
// An empty batch yields an empty summary.
func Summarize(samples []Sample) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	t := NewTracker()
	for _, s := range samples {
		t.ObserveLength(s.Length, s.At)
	}
	return t.Summary(samples[len(samples)-1].At)
}

func cpm(chars int, started, now time.Time) *int {
	if started.IsZero() || chars == 0 {
		return nil
	}
	secs := now.Sub(started).Seconds()
	if secs <= 0 {
		return nil
	}
	v := int(math.Round(float64(chars) / secs * 60))
	return &v
}
