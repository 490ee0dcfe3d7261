package parking

import (
	"fmt"
	"math"
	"strings"
)

// Thresholds are the distance cutoffs (centimeters) the classifier works
// with. All of them are configurable; DefaultThresholds matches the
// deployed sensor firmware.
type Thresholds struct {
	UnoccupiedDistanceCm      float64
	UnoccupiedToleranceCm     float64
	OccupiedThresholdCm       float64
	AlignmentThresholdCm      float64
	MisparkThresholdCm        float64
	SevereMisalignThresholdCm float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		UnoccupiedDistanceCm:      200,
		UnoccupiedToleranceCm:     10,
		OccupiedThresholdCm:       80,
		AlignmentThresholdCm:      10,
		MisparkThresholdCm:        25,
		SevereMisalignThresholdCm: 80,
	}
}

// ScoringStrategy selects how the quality score is derived. The binary
// strategy is the current behavior; the deduction strategy reinstates
// the earlier continuous score without touching call sites.
type ScoringStrategy string

const (
	ScoringBinary    ScoringStrategy = "binary"
	ScoringDeduction ScoringStrategy = "deduction"
)

// Classifier turns one reading into an Analysis. Pure and stateless,
// safe for concurrent use.
type Classifier struct {
	thresholds Thresholds
	scoring    ScoringStrategy
}

func NewClassifier(t Thresholds, scoring ScoringStrategy) Classifier {
	if scoring == "" {
		scoring = ScoringBinary
	}
	return Classifier{thresholds: t, scoring: scoring}
}

// Classify interprets three raw distances.
//
// All three sensors reading far with close agreement is definitive
// emptiness and short-circuits everything else. Past that point the
// center sensor alone gates occupied vs empty; left/right asymmetry
// drives alignment and the misparked flag.
func (c Classifier) Classify(r SensorReading) Analysis {
	t := c.thresholds

	minDist := math.Min(r.LeftDistanceCm, math.Min(r.CenterDistanceCm, r.RightDistanceCm))
	maxDist := math.Max(r.LeftDistanceCm, math.Max(r.CenterDistanceCm, r.RightDistanceCm))
	if minDist >= t.UnoccupiedDistanceCm && maxDist-minDist <= t.UnoccupiedToleranceCm {
		return Analysis{
			Status:       StatusEmpty,
			Alignment:    AlignmentCentered,
			IsMisparked:  false,
			QualityScore: 100,
			Warnings:     []string{},
			Metrics:      Metrics{CenterOffsetCm: r.CenterDistanceCm},
		}
	}

	status := StatusEmpty
	if r.CenterDistanceCm <= t.OccupiedThresholdCm {
		status = StatusOccupied
	}

	warnings := []string{}
	diff := math.Abs(r.LeftDistanceCm - r.RightDistanceCm)

	var alignment Alignment
	switch {
	case diff <= t.AlignmentThresholdCm:
		alignment = AlignmentCentered
	case diff <= t.MisparkThresholdCm:
		alignment = biasFor(r)
		warnings = append(warnings, fmt.Sprintf("Vehicle slightly %s by %.1fcm", alignmentLabel(alignment), diff))
	case diff < t.SevereMisalignThresholdCm:
		alignment = biasFor(r)
		warnings = append(warnings, fmt.Sprintf("Misparking suspected: %s by %.1fcm", alignmentLabel(alignment), diff))
	default:
		alignment = AlignmentSevere
		warnings = append(warnings, fmt.Sprintf("Severe misalignment detected: %.1fcm difference", diff))
	}

	misparked := alignment == AlignmentSevere || diff >= t.MisparkThresholdCm

	return Analysis{
		Status:       status,
		Alignment:    alignment,
		IsMisparked:  misparked,
		QualityScore: c.score(misparked, diff),
		Warnings:     warnings,
		Metrics: Metrics{
			// Raw center passthrough; earlier revisions computed an
			// offset from the ideal position here.
			CenterOffsetCm: r.CenterDistanceCm,
		},
	}
}

func (c Classifier) score(misparked bool, diff float64) float64 {
	switch c.scoring {
	case ScoringDeduction:
		t := c.thresholds
		var deduction float64
		switch {
		case diff <= t.AlignmentThresholdCm:
			deduction = 0
		case diff <= t.MisparkThresholdCm:
			deduction = 15 + (diff - t.AlignmentThresholdCm)
		case diff < t.SevereMisalignThresholdCm:
			deduction = 40 + (diff - t.MisparkThresholdCm)
		default:
			deduction = 100
		}
		return math.Max(0, 100-deduction)
	default:
		if misparked {
			return 0
		}
		return 100
	}
}

func biasFor(r SensorReading) Alignment {
	if r.LeftDistanceCm < r.RightDistanceCm {
		return AlignmentLeftBiased
	}
	return AlignmentRightBiased
}

func alignmentLabel(a Alignment) string {
	return strings.ReplaceAll(string(a), "_", " ")
}
