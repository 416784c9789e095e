package reactor

import "strings"

// Command is an instruction relayed to a running loop from the console.
type Command int

const (
	// Text is any console line that is not one of the commands below.
	Text Command = iota
	// Info logs the number of connected clients and endpoint summaries.
	Info
	// Shutdown stops accepting, lets connected clients finish and then ends
	// the loop.
	Shutdown
	// ShutdownNow closes every connection and ends the loop.
	ShutdownNow
)

func (c Command) String() string {
	switch c {
	case Info:
		return "INFO"
	case Shutdown:
		return "SHUTDOWN"
	case ShutdownNow:
		return "SHUTDOWNNOW"
	default:
		return "TEXT"
	}
}

// ParseCommand recognizes INFO, SHUTDOWN and SHUTDOWNNOW regardless of case
// and surrounding space. Any other line is returned unchanged as Text.
func ParseCommand(line string) (Command, string) {
	switch strings.ToUpper(strings.TrimSpace(line)) {
	case "INFO":
		return Info, ""
	case "SHUTDOWN":
		return Shutdown, ""
	case "SHUTDOWNNOW":
		return ShutdownNow, ""
	}
	return Text, line
}
