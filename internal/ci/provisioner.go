package ci

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/spader/whisperbuild/internal/logging"
	"github.com/spader/whisperbuild/internal/shell"
)

// Provisioner installs system packages on a Debian-based runner.
type Provisioner struct {
	Runner shell.Runner
	Host   shell.Host
	Retry  shell.RetryPolicy
	Logger *slog.Logger
}

func (p *Provisioner) logger() *slog.Logger {
	return logging.Ensure(p.Logger).With("component", "ci.provisioner")
}

func (p *Provisioner) sudo(ctx context.Context, args ...string) error {
	return p.Runner.Run(ctx, shell.Command{Args: shell.Sudo(p.Host, args)})
}

// retried runs a package manager command under the retry policy.
func (p *Provisioner) retried(ctx context.Context, args ...string) error {
	label := strings.Join(args, " ")
	return shell.Retry(ctx, p.logger(), p.Retry, label, func(ctx context.Context) error {
		return p.sudo(ctx, args...)
	})
}

// AptUpdate refreshes the package index.
func (p *Provisioner) AptUpdate(ctx context.Context) error {
	return p.retried(ctx, "apt-get", "update")
}

// AptInstall installs packages. An empty list runs nothing.
func (p *Provisioner) AptInstall(ctx context.Context, packages ...string) error {
	if len(packages) == 0 {
		return nil
	}
	return p.retried(ctx, append([]string{"apt-get", "install", "-y"}, packages...)...)
}

// DpkgInstall installs a local .deb file.
func (p *Provisioner) DpkgInstall(ctx context.Context, path string) error {
	return p.sudo(ctx, "dpkg", "-i", path)
}

// Download fetches url into file.
func (p *Provisioner) Download(ctx context.Context, url, file string) error {
	if file == "" {
		return errors.New("download requires an output file")
	}
	return p.Runner.Run(ctx, shell.Command{Args: []string{"wget", "-q", url, "-O", file}})
}

// InstallDependencies prepares a fresh runner: the apt build toolchain, then
// the repository's own node dependencies.
func (p *Provisioner) InstallDependencies(ctx context.Context, packages []string, npm string) error {
	if err := p.AptUpdate(ctx); err != nil {
		return err
	}
	if err := p.AptInstall(ctx, packages...); err != nil {
		return err
	}
	if npm == "" {
		npm = "npm"
	}
	p.logger().Info("installing node dependencies")
	return p.Runner.Run(ctx, shell.Command{Args: []string{npm, "install"}})
}
