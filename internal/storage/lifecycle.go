package storage

import (
	"github.com/carelink/agent-portal/internal/apperr"
)

type ReportStatus string

const (
	ReportPending    ReportStatus = "PENDING"
	ReportGenerating ReportStatus = "GENERATING"
	ReportCompleted  ReportStatus = "COMPLETED"
	ReportFailed     ReportStatus = "FAILED"
	ReportCancelled  ReportStatus = "CANCELLED"
)

// reportTransitions is the only place legal report status moves are defined.
var reportTransitions = map[ReportStatus][]ReportStatus{
	ReportPending:    {ReportGenerating, ReportCancelled},
	ReportGenerating: {ReportCompleted, ReportFailed},
}

func (s ReportStatus) Valid() bool {
	switch s {
	case ReportPending, ReportGenerating, ReportCompleted, ReportFailed, ReportCancelled:
		return true
	}
	return false
}

func (s ReportStatus) Terminal() bool {
	return s == ReportCompleted || s == ReportFailed || s == ReportCancelled
}

// Rerunnable reports whether an explicit new run may re-arm the report.
func (s ReportStatus) Rerunnable() bool {
	return s == ReportCompleted || s == ReportFailed
}

func CanTransition(from, to ReportStatus) bool {
	for _, next := range reportTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an invalid_transition error for illegal moves.
func CheckTransition(from, to ReportStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return apperr.Newf(apperr.KindInvalidTransition, "cannot move report from %s to %s", from, to)
}

// StaleTransition reports a compare-and-set miss.
func StaleTransition(expected, actual ReportStatus) error {
	return apperr.Newf(apperr.KindInvalidTransition, "report is %s, expected %s", actual, expected)
}

type ExportStatus string

const (
	ExportProcessing ExportStatus = "PROCESSING"
	ExportCompleted  ExportStatus = "COMPLETED"
	ExportFailed     ExportStatus = "FAILED"
)

func CheckExportTransition(from, to ExportStatus) error {
	if from == ExportProcessing && (to == ExportCompleted || to == ExportFailed) {
		return nil
	}
	return apperr.Newf(apperr.KindInvalidTransition, "cannot move export job from %s to %s", from, to)
}
