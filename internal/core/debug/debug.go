// Package debug holds the utilities enabled by the debugging section of the
// config.
package debug

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const displayWidth = 16

// Dump renders data in two columns, one for bytes and the other for their
// ascii representation, one line per 16 bytes.
func Dump(data []byte) string {
	var b strings.Builder
	for offset := 0; offset < len(data); offset += displayWidth {
		dumpLine(&b, data[offset:min(offset+displayWidth, len(data))], offset)
	}
	return b.String()
}

// dumpLine writes one line of data to b.
func dumpLine(b *strings.Builder, data []byte, offset int) {
	fmt.Fprintf(b, "(%04X) ", offset)
	for i := 0; i < displayWidth; i++ {
		if i == 8 {
			// Visual aid - spacing between groups of 8 bytes.
			b.WriteString("  ")
		}
		if i < len(data) {
			fmt.Fprintf(b, "%02x ", data[i])
		} else {
			b.WriteString("   ")
		}
	}
	b.WriteString("    ")
	// Display the print characters as-is, others as periods.
	for _, c := range data {
		if c < 0x80 && strconv.IsPrint(rune(c)) {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	b.WriteByte('\n')
}

// StartPprofServer serves the default pprof handlers on localhost:port in the
// background. See https://golang.org/pkg/net/http/pprof/
func StartPprofServer(logger *zap.SugaredLogger, port int) {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting pprof server on %s", listenerAddr)

	go func() {
		if err := http.ListenAndServe(listenerAddr, nil); err != nil {
			logger.Warnf("error starting pprof server: %v", err)
		}
	}()
}
