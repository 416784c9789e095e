package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dcrodman/muxnet/internal/chat"
	"github.com/dcrodman/muxnet/internal/packets"
)

var chatCmd = &cobra.Command{
	Use:   "chat [login] [host:port]",
	Short: "Joins a chat server",
	Long: `Joins a chat server as login. Every line read from stdin is sent to the other
clients and their messages are printed as they arrive. The client leaves at
the end of input.`,
	Args: cobra.ExactArgs(2),
	Run:  ChatCommand,
}

func ChatCommand(cmd *cobra.Command, args []string) {
	_, logger, loop := newClient("CHAT")
	client := &chat.Client{
		Login:  args[0],
		Logger: logger,
		OnMessage: func(msg packets.ChatMessage) {
			fmt.Printf("%s: %s\n", msg.Login, msg.Text)
		},
	}
	if err := client.Init(loop, args[1]); err != nil {
		fail(err)
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			loop.Execute(scanner.Text())
		}
		client.Leave()
	}()
	runLoop(loop)
}
