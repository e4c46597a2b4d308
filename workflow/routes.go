package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/orcgraph/graph"
)

// MaxAttempts is the number of consecutive failed code attempts after which
// the analysis run fails.
const MaxAttempts = 3

// ErrRetryCeiling fails an analysis run that kept producing broken code.
var ErrRetryCeiling = errors.New("retry ceiling reached")

// Route labels.
const (
	LabelRetry    = "retry"
	LabelAdvance  = "advance"
	LabelApproved = "approved"
	LabelRevise   = "revise"
	LabelEscalate = "escalate"
	LabelRefine   = "refine"
	LabelNew      = "new"
	LabelFinish   = "finish"
	LabelTabular  = "tabular"
	LabelDocument = "document"
	LabelApprove  = "approve"
	LabelReject   = "reject"
)

// routeAttempt follows make and run. Failed attempts loop back to make
// until MaxAttempts is reached.
func routeAttempt(s graph.State) (string, error) {
	if n := s.Int(FieldErrorCount); n >= MaxAttempts {
		return "", fmt.Errorf("%w: %d failed attempts, last error: %s", ErrRetryCeiling, n, s.String(FieldLastError))
	}
	if s.String(FieldLastError) != "" {
		return LabelRetry, nil
	}
	return LabelAdvance, nil
}

// routeEval sends approved insight to the human gate, and rejected insight
// back to make until the revision ceiling hands the decision to a human.
func routeEval(maxRevisions int) graph.Router {
	return func(s graph.State) (string, error) {
		switch {
		case s.Bool(FieldApproved):
			return LabelApproved, nil
		case s.Int(FieldRevisions) < maxRevisions:
			return LabelRevise, nil
		default:
			return LabelEscalate, nil
		}
	}
}

// routeChoice follows the user's decision at the wait gate.
func routeChoice(s graph.State) (string, error) {
	return s.String(FieldDecision), nil
}

var choiceAliases = map[string]string{
	"수정": LabelRefine,
	"추가": LabelNew,
	"완료": LabelFinish,
}

// CanonicalChoice maps a user choice, including its Korean aliases, to a
// route label. Unknown choices are returned lowercased and fail routing.
func CanonicalChoice(choice string) string {
	choice = strings.TrimSpace(choice)
	if label, ok := choiceAliases[choice]; ok {
		return label
	}
	return strings.ToLower(choice)
}

// ValidChoice reports whether choice selects a route at the wait gate.
func ValidChoice(choice string) bool {
	switch CanonicalChoice(choice) {
	case LabelRefine, LabelNew, LabelFinish:
		return true
	}
	return false
}

func routeFileType(s graph.State) (string, error) {
	return s.String(FieldFileType), nil
}

func routeReview(s graph.State) (string, error) {
	return s.String(FieldReviewDecision), nil
}

func routeWorker(s graph.State) (string, error) {
	return s.String(FieldNextWorker), nil
}
