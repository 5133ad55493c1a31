// Package driver sequences a full client run: argument parsing, connection
// setup, the per-mode transfer loop, and teardown.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"github.com/benbjohnson/clock"

	"github.com/ondrakrat/robot-client/connection"
	"github.com/ondrakrat/robot-client/protocol"
	"github.com/ondrakrat/robot-client/receiver"
	"github.com/ondrakrat/robot-client/sender"
	"github.com/ondrakrat/robot-client/transport"
)

const usage = "usage: robot <host> [upload-file]"

// Run parses argv (excluding the program name), executes the requested
// transfer, and returns a process exit code.
func Run(argv []string, log *zap.Logger) int {
	host, uploadFile, ok := parseArgs(argv)
	if !ok {
		fmt.Fprintln(os.Stderr, usage)
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, host, uploadFile, log); err != nil {
		log.Error("transfer failed", zap.Error(err))
		return 1
	}
	return 0
}

// parseArgs implements the positional-only CLI contract: "<host>" selects
// DOWNLOAD, "<host> <file>" selects UPLOAD, anything else is invalid.
func parseArgs(argv []string) (host, uploadFile string, ok bool) {
	switch len(argv) {
	case 1:
		return argv[0], "", true
	case 2:
		return argv[0], argv[1], true
	default:
		return "", "", false
	}
}

func run(ctx context.Context, host, uploadFile string, log *zap.Logger) (retErr error) {
	mode := protocol.ModeDownload
	var upload *os.File
	if uploadFile != "" {
		mode = protocol.ModeUpload
		f, err := os.Open(uploadFile)
		if err != nil {
			return fmt.Errorf("driver: open %s: %w", uploadFile, err)
		}
		upload = f
		defer upload.Close()
	}

	port, err := transport.Dial(host, log)
	if err != nil {
		return err
	}
	conn := connection.New(port, mode, log)

	var result *multierror.Error
	defer func() {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("driver: close connection: %w", err))
		}
		retErr = errors.Join(retErr, result.ErrorOrNil())
	}()

	if err := conn.Handshake(ctx); err != nil {
		return err
	}

	switch mode {
	case protocol.ModeDownload:
		return runDownload(ctx, conn, log)
	case protocol.ModeUpload:
		return runUpload(ctx, conn, upload, log)
	}
	return nil
}

func runDownload(ctx context.Context, conn *connection.Connection, log *zap.Logger) error {
	out, err := os.Create(receiver.OutputFileName)
	if err != nil {
		return fmt.Errorf("driver: create %s: %w", receiver.OutputFileName, err)
	}
	defer out.Close()

	w := receiver.New(conn.Transport(), conn.ConnID(), out, log)
	return w.Run(ctx)
}

func runUpload(ctx context.Context, conn *connection.Connection, file *os.File, log *zap.Logger) error {
	w := sender.New(conn.Transport(), conn.ConnID(), file, clock.New(), log)
	return w.RunUpload(ctx)
}
