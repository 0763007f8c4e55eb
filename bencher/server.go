package bencher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/weiihann/allocbench/process"
)

// Default grace periods around a dependent server.
const (
	DefaultStartupGrace  = 3 * time.Second
	DefaultTeardownGrace = 3 * time.Second
)

const probeInterval = 50 * time.Millisecond

// Server describes a process the client workload talks to. Its resource
// usage, not the client's, becomes the base attributes.
type Server struct {
	Exec string
	Args []string
	// ReadyAddr is a TCP address polled until it accepts connections.
	// Without it the startup grace is slept in full.
	ReadyAddr string
	// Shutdown asks the server to exit. If empty or failing, the server
	// group receives SIGINT, which GNU time ignores.
	Shutdown      []string
	StartupGrace  time.Duration
	TeardownGrace time.Duration
	// Version prints the server's version.
	Version []string
}

func (c *Case) runWithServer(ctx context.Context) (*process.Output, process.Usage, error) {
	s := c.spec.Server

	srv, err := c.runner.Start(ctx, process.Command{
		Path:    s.Exec,
		Args:    s.Args,
		Env:     c.spec.Env,
		Preload: c.lib,
	})
	if err != nil {
		return nil, process.Usage{}, err
	}

	if err := c.waitReady(ctx, srv); err != nil {
		stderr := srv.Discard()

		return nil, process.Usage{}, fmt.Errorf("%w\nserver stderr: %s", err, stderr)
	}

	client, err := c.runner.Run(ctx, c.clientCommand())
	if err != nil {
		stderr := srv.Discard()
		c.logger.WarnContext(ctx, "client failed, server killed",
			slog.Int("server_pid", srv.Pid()),
			slog.String("server_stderr", strings.TrimSpace(stderr)),
		)

		return client, process.Usage{}, err
	}

	c.stopServer(ctx, srv)

	out, err := srv.Finish()
	if err != nil {
		return client, process.Usage{}, err
	}

	return client, out.Usage, nil
}

func (c *Case) waitReady(ctx context.Context, srv *process.Process) error {
	s := c.spec.Server
	grace := s.StartupGrace
	if grace <= 0 {
		grace = DefaultStartupGrace
	}

	if s.ReadyAddr == "" {
		if srv.Wait(grace) {
			return errors.New("server exited during startup")
		}

		return nil
	}

	deadline := time.Now().Add(grace)
	dialer := net.Dialer{Timeout: probeInterval}

	for {
		conn, err := dialer.DialContext(ctx, "tcp", s.ReadyAddr)
		if err == nil {
			conn.Close()

			return nil
		}

		if srv.Exited() {
			return errors.New("server exited during startup")
		}

		if time.Now().After(deadline) {
			c.logger.WarnContext(ctx, "server not reachable after grace period, continuing",
				slog.String("addr", s.ReadyAddr),
				slog.Duration("grace", grace),
			)

			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-srv.Done():
		case <-time.After(probeInterval):
		}
	}
}

func (c *Case) stopServer(ctx context.Context, srv *process.Process) {
	s := c.spec.Server
	grace := s.TeardownGrace
	if grace <= 0 {
		grace = DefaultTeardownGrace
	}

	requested := false
	if len(s.Shutdown) > 0 {
		cmd := exec.CommandContext(ctx, s.Shutdown[0], s.Shutdown[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			c.logger.WarnContext(ctx, "shutdown command failed",
				slog.String("error", err.Error()),
				slog.String("output", strings.TrimSpace(string(out))),
			)
		} else {
			requested = true
		}
	}

	if !requested {
		if err := srv.Signal(unix.SIGINT); err != nil {
			c.logger.WarnContext(ctx, "signal server", slog.String("error", err.Error()))
		}
	}

	if srv.Wait(grace) {
		return
	}

	c.logger.WarnContext(ctx, "server did not exit, killing",
		slog.Int("pid", srv.Pid()),
		slog.Duration("grace", grace),
	)

	if err := srv.Kill(); err != nil {
		c.logger.WarnContext(ctx, "kill server", slog.String("error", err.Error()))
	}
}
