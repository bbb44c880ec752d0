package workers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

func TestParseCheckRollup(t *testing.T) {
	raw := `{"statusCheckRollup": [
		{"name": "tests", "status": "COMPLETED", "conclusion": "SUCCESS", "detailsUrl": "https://ci/1"},
		{"name": "lint", "status": "IN_PROGRESS", "conclusion": "", "detailsUrl": "https://ci/2"}
	]}`

	status, err := ParseCheckRollup(42, raw)
	require.NoError(t, err)
	assert.Equal(t, 42, status.PRNumber)
	assert.Equal(t, models.CIStatusPending, status.Overall)
	require.Len(t, status.Checks, 2)
	assert.Equal(t, "tests", status.Checks[0].Name)
	assert.Equal(t, models.CheckStateCompleted, status.Checks[0].Status)
	assert.Equal(t, models.CheckConclusionSuccess, status.Checks[0].Conclusion)
}

func TestParseCheckRollupFailure(t *testing.T) {
	raw := `{"statusCheckRollup": [
		{"name": "tests", "status": "COMPLETED", "conclusion": "FAILURE"}
	]}`

	status, err := ParseCheckRollup(7, raw)
	require.NoError(t, err)
	assert.Equal(t, models.CIStatusFailure, status.Overall)
}

func TestParseCILogsBlack(t *testing.T) {
	logs := "would reformat app.py\nwould reformat database.py\nOh no! 2 files would be reformatted."

	failures := ParseCILogs("lint", logs)
	require.Len(t, failures, 2)
	assert.Equal(t, models.CIFailureBlack, failures[0].FailureType)
	assert.Equal(t, "app.py", failures[0].FilePath)
	assert.Equal(t, "database.py", failures[1].FilePath)
}

func TestParseCILogsFlake8(t *testing.T) {
	logs := "app.py:10:1: E302 expected 2 blank lines, got 1\n" +
		"app.py:55:80: E501 line too long (130 > 120 characters)\n" +
		"helpers.py:3:1: W292 no newline at end of file"

	failures := ParseCILogs("lint", logs)
	require.Len(t, failures, 3)

	// Blank-line violations are mechanical.
	assert.Equal(t, models.CIFailureFlake8, failures[0].FailureType)
	assert.Equal(t, "app.py", failures[0].FilePath)
	assert.Equal(t, 10, failures[0].LineNumber)
	assert.True(t, AutoFixable(&failures[0]))

	// Line length needs a real edit.
	assert.Equal(t, models.CIFailureLint, failures[1].FailureType)
	assert.False(t, AutoFixable(&failures[1]))

	// Missing trailing newline is mechanical.
	assert.Equal(t, models.CIFailureFlake8, failures[2].FailureType)
	assert.True(t, AutoFixable(&failures[2]))
}

func TestParseCILogsPytest(t *testing.T) {
	logs := "FAILED tests/test_app.py::test_login_button - AssertionError: expected 'Sign in'\n" +
		"FAILED tests/test_app.py::test_logout\n" +
		"2 failed, 40 passed in 3.21s"

	failures := ParseCILogs("tests", logs)
	require.Len(t, failures, 2)
	assert.Equal(t, models.CIFailureTest, failures[0].FailureType)
	assert.Equal(t, "tests/test_app.py", failures[0].FilePath)
	assert.Contains(t, failures[0].ErrorMessage, "test_login_button failed")
	assert.Contains(t, failures[0].ErrorMessage, "AssertionError")
	assert.False(t, AutoFixable(&failures[0]))
}

func TestParseCILogsBuildError(t *testing.T) {
	logs := "Step 5/9 : RUN pip install -r requirements.txt\nERROR: No matching distribution found for flask==99.0"

	failures := ParseCILogs("build", logs)
	require.Len(t, failures, 1)
	assert.Equal(t, models.CIFailureBuild, failures[0].FailureType)
	assert.Contains(t, failures[0].ErrorMessage, "No matching distribution")
	assert.NotEmpty(t, failures[0].RawLog)
}

func TestParseCILogsUnknown(t *testing.T) {
	failures := ParseCILogs("mystery", "something odd happened")
	require.Len(t, failures, 1)
	assert.Equal(t, models.CIFailureUnknown, failures[0].FailureType)
}

func TestParseCILogsEmpty(t *testing.T) {
	assert.Empty(t, ParseCILogs("tests", "   \n"))
}

func TestParsePRNumber(t *testing.T) {
	n, err := ParsePRNumber("https://github.com/acme/shop/pull/123\n")
	require.NoError(t, err)
	assert.Equal(t, 123, n)

	_, err = ParsePRNumber("no url here")
	assert.Error(t, err)
}
