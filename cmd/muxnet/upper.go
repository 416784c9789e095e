package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dcrodman/muxnet/internal/upper"
)

var upperCmd = &cobra.Command{
	Use:   "upper [burst|onebyone] [in-file] [out-file] [host:port]",
	Short: "Has every line of a file upper-cased by an UPPER server",
	Long: `Sends every line of in-file to an UPPER server and writes the answers to
out-file in the same order. In burst mode all unanswered lines are sent at
once; in onebyone mode a line is only sent once the previous one has been
answered. Unanswered lines are sent again after each timeout.`,
	Args: cobra.ExactArgs(4),
	Run:  UpperCommand,
}

var (
	TimeoutFlag  time.Duration
	EncodingFlag string
)

func UpperCommand(cmd *cobra.Command, args []string) {
	mode, err := upper.ParseMode(args[0])
	if err != nil {
		fail(err)
	}
	cfg, logger, loop := newClient("UPPER")

	encoding := EncodingFlag
	if encoding == "" {
		encoding = cfg.UDPClient.Encoding
	}
	in, err := os.Open(args[1])
	if err != nil {
		fail(err)
	}
	lines, err := upper.ReadLines(in, encoding)
	in.Close()
	if err != nil {
		fail(fmt.Errorf("error reading %s: %w", args[1], err))
	}

	timeout := TimeoutFlag
	if timeout == 0 {
		timeout = cfg.UDPClient.Timeout
	}
	client := &upper.Client{Mode: mode, Timeout: timeout, Logger: logger}
	if err := client.Init(loop, args[3], lines); err != nil {
		fail(err)
	}
	runLoop(loop)

	out, err := os.Create(args[2])
	if err != nil {
		fail(err)
	}
	if err := upper.WriteLines(out, client.Answers()); err != nil {
		out.Close()
		fail(err)
	}
	if err := out.Close(); err != nil {
		fail(err)
	}
	logger.Infof("%d lines upper-cased after %d timeouts", len(lines), client.Retries())
}
