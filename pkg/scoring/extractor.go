// Package scoring turns a grader's free-form reply into a bounded integer score.
//
// Extraction runs as a cascade: labeled patterns, then bare numbers followed by a score
// unit, then a keyword estimate, and finally the interval's lower bound. The first stage
// that produces an in-range value wins, so the result always lies inside the interval.
package scoring

import (
	"fmt"
	"regexp"
)

// Stage names the cascade step that produced a score.
type Stage string

const (
	StageLabeled   Stage = "labeled"
	StageUnit      Stage = "unit"
	StageHeuristic Stage = "heuristic"
	StageFallback  Stage = "fallback"
)

// Result is the extracted score together with the stage that produced it.
type Result struct {
	Score int
	Stage Stage
}

// Config customises an Extractor. Zero-valued fields fall back to the defaults.
type Config struct {
	Interval  Interval
	Rules     []Rule
	Units     []string
	Heuristic *Heuristic
}

// Extractor is safe for concurrent use.
type Extractor struct {
	interval  Interval
	rules     []Rule
	units     *regexp.Regexp
	heuristic Heuristic
}

// NewExtractor validates the interval and prepares the cascade.
func NewExtractor(cfg Config) (*Extractor, error) {
	if !cfg.Interval.Valid() {
		return nil, fmt.Errorf("scoring: invalid interval %s", cfg.Interval)
	}

	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	units := cfg.Units
	if units == nil {
		units = DefaultUnits()
	}
	heuristic := DefaultHeuristic()
	if cfg.Heuristic != nil {
		heuristic = *cfg.Heuristic
	}

	return &Extractor{
		interval:  cfg.Interval,
		rules:     rules,
		units:     unitPattern(units),
		heuristic: heuristic,
	}, nil
}

// Interval returns the range every extracted score falls into.
func (e *Extractor) Interval() Interval {
	return e.interval
}

// Extract returns a score inside the extractor's interval for any input, including empty
// or garbage text. name is the student's display name used by name-bound patterns.
func (e *Extractor) Extract(text, name string) Result {
	// one below the interval marks "nothing found" and never leaves this function
	unset := e.interval.Lo - 1

	score, stage := unset, StageFallback
	if value, ok := firstInRange(e.rules, text, name, e.interval); ok {
		score, stage = value, StageLabeled
	} else if value, ok := scanUnits(e.units, text, e.interval); ok {
		score, stage = value, StageUnit
	} else {
		score, stage = e.heuristic.Estimate(text, e.interval), StageHeuristic
	}

	if score == unset || !e.interval.Contains(score) {
		return Result{Score: e.interval.Lo, Stage: StageFallback}
	}
	return Result{Score: score, Stage: stage}
}
