package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var ConfigFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:   "muxnet",
		Short: "Single-threaded multiplexed network servers and clients",
		Run:   ServeCommand,
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "", "Path to the directory holding config.yaml")

	upperCmd.Flags().DurationVarP(&TimeoutFlag, "timeout", "t", 0, "Time to wait for answers before sending again (default from config)")
	upperCmd.Flags().StringVarP(&EncodingFlag, "encoding", "e", "", "Charset of the input file (default from config)")
	longSumCmd.Flags().BoolVar(&UDPFlag, "udp", false, "Use the reliable datagram protocol instead of a stream")
	longSumCmd.Flags().Int64Var(&SessionFlag, "session", 0, "Session id for --udp (default random)")
	longSumCmd.Flags().DurationVarP(&TimeoutFlag, "timeout", "t", 0, "Time to wait for answers before sending again (default from config)")
	getCmd.Flags().IntVar(&MaxBodyFlag, "max-body", 0, "Largest body accepted, in bytes")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(upperCmd)
	rootCmd.AddCommand(longSumCmd)
	rootCmd.AddCommand(getCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
