// Package deploy publishes generated configuration artifacts to the store's
// control plane. The Driver port keeps synthesis and monitoring decoupled
// from any concrete publishing mechanism.
package deploy

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/charlesng35/governor/pkg/errors"
	"github.com/charlesng35/governor/pkg/logger"
)

// Driver deploys the artifact set rooted at artifactDir.
type Driver interface {
	Deploy(ctx context.Context, artifactDir string) error
}

// Func adapts a function to the Driver interface.
type Func func(ctx context.Context, artifactDir string) error

// Deploy implements Driver.
func (f Func) Deploy(ctx context.Context, artifactDir string) error {
	return f(ctx, artifactDir)
}

// DefaultTimeout bounds a single deployment invocation.
const DefaultTimeout = 2 * time.Minute

// ExecDriver runs an external publisher command with the artifact directory
// as its final argument. A non-zero exit status or a timeout is a
// deployment failure.
type ExecDriver struct {
	command []string
	timeout time.Duration
	log     *zap.Logger
}

// NewExecDriver builds an ExecDriver. The command must name at least the
// executable; a non-positive timeout falls back to DefaultTimeout.
func NewExecDriver(command []string, timeout time.Duration) (*ExecDriver, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, apperrors.ErrInvalidConfig.WithInternal(fmt.Errorf("deploy command is empty"))
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &ExecDriver{
		command: command,
		timeout: timeout,
		log:     logger.WithModule("deploy"),
	}, nil
}

// Deploy invokes the publisher command and waits for it to finish.
func (d *ExecDriver) Deploy(ctx context.Context, artifactDir string) error {
	if _, err := exec.LookPath(d.command[0]); err != nil {
		return apperrors.ErrDeploymentFailed.WithInternal(err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := append(append([]string{}, d.command[1:]...), artifactDir)
	cmd := exec.CommandContext(ctx, d.command[0], args...)

	started := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(string(out))
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		if detail != "" {
			err = fmt.Errorf("%w: %s", err, detail)
		}
		d.log.Error("deployment failed",
			zap.String("command", d.command[0]),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return apperrors.ErrDeploymentFailed.WithInternal(err)
	}

	d.log.Info("deployment complete",
		zap.String("command", d.command[0]),
		zap.String("artifacts", artifactDir),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}
