/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command webserv loads a configuration file, builds the event loop, and
// runs it until a signal requests shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/OmarIssa0/webserv/internal/config"
	"github.com/OmarIssa0/webserv/internal/engine"
	"github.com/OmarIssa0/webserv/logger"
)

var (
	checkOnly bool
	logLevel  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "webserv <config-file>",
		Short:         "A configurable, single-threaded, event-driven HTTP/1.1 server",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          run,
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "validate the configuration file and exit without serving")
	cmd.Flags().StringVar(&logLevel, "loglevel", "info", "minimum log level: critical, fatal, error, warning, info, debug")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	logger.SetLevel(logger.Parse(logLevel))

	path := args[0]

	cfg, perr := config.ParseFile(path)
	if perr != nil {
		return fmt.Errorf("%s: %w", path, perr)
	}
	if verr := cfg.Validate(); verr != nil {
		return fmt.Errorf("%s: %w", path, verr)
	}

	if checkOnly {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: configuration OK\n", path)
		return nil
	}

	// A CGI child that exits or closes its stdin pipe early can make the
	// parent's next write to that pipe raise SIGPIPE; the engine
	// already treats a failed pipe write as EPIPE on the syscall return
	// value, so the default signal disposition is ignored process-wide.
	signal.Ignore(syscall.SIGPIPE)

	eng, eerr := engine.New(cfg)
	if eerr != nil {
		return fmt.Errorf("%s: %w", path, eerr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig
		logger.GetDefault().Info("webserv: shutdown requested, draining connections")
		eng.RequestShutdown()
		<-sig
		logger.GetDefault().Warn("webserv: second signal received, forcing shutdown")
		cancel()
	}()

	logger.GetDefault().Infof("webserv: serving %s", path)

	if rerr := eng.Run(ctx); rerr != nil {
		return fmt.Errorf("engine stopped: %w", rerr)
	}

	return nil
}
