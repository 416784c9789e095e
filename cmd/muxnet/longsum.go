package main

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dcrodman/muxnet/internal/longsum"
)

var longSumCmd = &cobra.Command{
	Use:   "longsum [host:port] [operand...]",
	Short: "Has a SUM or LONGSUM server add up operands",
	Args:  cobra.MinimumNArgs(1),
	Run:   LongSumCommand,
}

var (
	UDPFlag     bool
	SessionFlag int64
)

func LongSumCommand(cmd *cobra.Command, args []string) {
	operands := make([]int64, 0, len(args)-1)
	for _, arg := range args[1:] {
		v, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			fail(fmt.Errorf("invalid operand %q: %w", arg, err))
		}
		operands = append(operands, v)
	}
	cfg, logger, loop := newClient("SUM")

	var result func() (int64, error)
	if UDPFlag {
		session := SessionFlag
		if session == 0 {
			session = rand.Int64()
		}
		timeout := TimeoutFlag
		if timeout == 0 {
			timeout = cfg.UDPClient.Timeout
		}
		client := &longsum.UDPClient{Logger: logger, Timeout: timeout}
		if err := client.Init(loop, args[0], session, operands); err != nil {
			fail(err)
		}
		result = client.Result
	} else {
		client := &longsum.Client{Logger: logger}
		if err := client.Init(loop, args[0], operands); err != nil {
			fail(err)
		}
		result = client.Result
	}
	runLoop(loop)

	sum, err := result()
	if err != nil {
		fail(err)
	}
	fmt.Println(sum)
}
