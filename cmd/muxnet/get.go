package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dcrodman/muxnet/internal/httpget"
)

var getCmd = &cobra.Command{
	Use:   "get [url]",
	Short: "Fetches a document over HTTP and prints its status and body",
	Args:  cobra.ExactArgs(1),
	Run:   GetCommand,
}

var MaxBodyFlag int

func GetCommand(cmd *cobra.Command, args []string) {
	_, logger, loop := newClient("GET")
	client := &httpget.Client{MaxBody: MaxBodyFlag, Logger: logger}
	if err := client.Init(loop, args[0]); err != nil {
		fail(err)
	}
	runLoop(loop)

	resp, err := client.Response()
	if err != nil {
		fail(err)
	}
	fmt.Printf("%s %d %s\n\n", resp.Header.Version, resp.Header.Code, resp.Header.Reason)
	fmt.Print(resp.Text)
}
