package models

// CIStatus is the aggregate result of the checks on a pull request.
type CIStatus string

// Aggregate CI status constants.
const (
	CIStatusSuccess CIStatus = "success"
	CIStatusFailure CIStatus = "failure"
	CIStatusPending CIStatus = "pending"
	CIStatusUnknown CIStatus = "unknown"
)

// Per-check run states as exposed by the VCS gateway.
const (
	CheckStateCompleted  = "completed"
	CheckStateInProgress = "in_progress"
	CheckStateQueued     = "queued"
	CheckStatePending    = "pending"
)

// Per-check conclusions when a run has completed.
const (
	CheckConclusionSuccess  = "success"
	CheckConclusionFailure  = "failure"
	CheckConclusionCanceled = "cancelled"
	CheckConclusionTimedOut = "timed_out"
	CheckConclusionNeutral  = "neutral"
)

// CICheck is one check run on a PR.
type CICheck struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion,omitempty"`
	URL        string `json:"url,omitempty"`
}

// PRStatus is a snapshot of a PR's checks.
type PRStatus struct {
	PRNumber int       `json:"pr_number"`
	Overall  CIStatus  `json:"overall"`
	Checks   []CICheck `json:"checks"`
}

// CI failure classifications produced by log parsing.
const (
	CIFailureBlack   = "black"
	CIFailureFlake8  = "flake8"
	CIFailureLint    = "lint"
	CIFailureTest    = "test"
	CIFailureBuild   = "build"
	CIFailureUnknown = "unknown"
)

// CIFailure is one parsed failure from CI logs.
type CIFailure struct {
	CheckName    string `json:"check_name"`
	FailureType  string `json:"failure_type"`
	ErrorMessage string `json:"error_message"`
	FilePath     string `json:"file_path,omitempty"`
	LineNumber   int    `json:"line_number,omitempty"`
	RawLog       string `json:"raw_log,omitempty"`
}

// DeriveOverall computes the aggregate CI status from per-check states:
// any failure wins, then any running or queued check, else success.
func DeriveOverall(checks []CICheck) CIStatus {
	if len(checks) == 0 {
		return CIStatusPending
	}
	pending := false
	for _, c := range checks {
		switch c.Status {
		case CheckStateCompleted:
			switch c.Conclusion {
			case CheckConclusionFailure, CheckConclusionCanceled, CheckConclusionTimedOut:
				return CIStatusFailure
			}
		case CheckStateInProgress, CheckStateQueued, CheckStatePending:
			pending = true
		}
	}
	if pending {
		return CIStatusPending
	}
	return CIStatusSuccess
}
