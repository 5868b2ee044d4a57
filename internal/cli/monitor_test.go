package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/governor/internal/monitor"
	apperrors "github.com/charlesng35/governor/pkg/errors"
)

func TestCycleExitErrorCleanCycle(t *testing.T) {
	res := &monitor.CycleResult{State: monitor.StateAllOk, Probed: 3}
	require.NoError(t, cycleExitError(res))
}

func TestCycleExitErrorUnreachableOnlyIsClean(t *testing.T) {
	res := &monitor.CycleResult{
		State:       monitor.StateAllOk,
		Probed:      3,
		Unreachable: []string{"invoices"},
	}
	require.NoError(t, cycleExitError(res))
}

func TestCycleExitErrorDenialsBelowThreshold(t *testing.T) {
	res := &monitor.CycleResult{
		State:   monitor.StateErrorsDetected,
		Probed:  3,
		Failing: []string{"invoices"},
	}
	err := cycleExitError(res)
	require.ErrorIs(t, err, apperrors.ErrPermissionDenied)
	require.Equal(t, apperrors.ExitDegraded, apperrors.ExitCodeFor(err))
}

func TestCycleExitErrorRemediationFixedEverything(t *testing.T) {
	res := &monitor.CycleResult{
		State:     monitor.StateErrorsDetected,
		Probed:    3,
		Failing:   []string{"invoices", "orders"},
		Triggered: []string{"invoices", "orders"},
		Remediation: &monitor.RemediationResult{
			Outcome: monitor.RemediationSucceeded,
			Targets: []string{"invoices", "orders"},
		},
	}
	require.NoError(t, cycleExitError(res))
}

func TestCycleExitErrorRemediationLeftStragglers(t *testing.T) {
	res := &monitor.CycleResult{
		State:     monitor.StateErrorsDetected,
		Probed:    3,
		Failing:   []string{"invoices", "orders"},
		Triggered: []string{"invoices"},
		Remediation: &monitor.RemediationResult{
			Outcome: monitor.RemediationSucceeded,
			Targets: []string{"invoices"},
		},
	}
	err := cycleExitError(res)
	require.ErrorIs(t, err, apperrors.ErrPermissionDenied)
	require.Equal(t, apperrors.ExitDegraded, apperrors.ExitCodeFor(err))
}

func TestCycleExitErrorPartialRemediation(t *testing.T) {
	res := &monitor.CycleResult{
		State:     monitor.StateErrorsDetected,
		Probed:    3,
		Failing:   []string{"invoices", "orders"},
		Triggered: []string{"invoices", "orders"},
		Remediation: &monitor.RemediationResult{
			Outcome:      monitor.RemediationPartial,
			Targets:      []string{"invoices", "orders"},
			StillFailing: []string{"orders"},
			Err: apperrors.ErrRemediationPartial.WithInternal(
				errors.New("1 of 2 resources still failing")),
		},
	}
	err := cycleExitError(res)
	require.ErrorIs(t, err, apperrors.ErrRemediationPartial)
	require.Equal(t, apperrors.ExitDegraded, apperrors.ExitCodeFor(err))
}

func TestCycleExitErrorDeploymentFailure(t *testing.T) {
	res := &monitor.CycleResult{
		State:     monitor.StateErrorsDetected,
		Probed:    3,
		Failing:   []string{"invoices"},
		Triggered: []string{"invoices"},
		Remediation: &monitor.RemediationResult{
			Outcome:    monitor.RemediationFailed,
			FailedStep: monitor.StepDeploy,
			Targets:    []string{"invoices"},
			Err: apperrors.ErrDeploymentFailed.WithInternal(
				errors.New("exit status 1")),
		},
	}
	err := cycleExitError(res)
	require.ErrorIs(t, err, apperrors.ErrDeploymentFailed)
	require.Equal(t, apperrors.ExitFailure, apperrors.ExitCodeFor(err))
}

func TestCycleExitErrorSuppressedResources(t *testing.T) {
	res := &monitor.CycleResult{
		State:      monitor.StateErrorsDetected,
		Probed:     3,
		Failing:    []string{"invoices"},
		Suppressed: []string{"invoices"},
	}
	err := cycleExitError(res)
	require.ErrorIs(t, err, apperrors.ErrPermissionDenied)
	require.Equal(t, apperrors.ExitDegraded, apperrors.ExitCodeFor(err))
}
