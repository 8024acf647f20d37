package wasmbuild

import (
	"fmt"

	"github.com/gookit/color"
)

var (
	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time

	// Debug enables verbose diagnostics; set via --debug or WASMBUILD_DEBUG=1.
	Debug bool
)

// color helpers
var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

func debugf(format string, a ...any) {
	if Debug {
		fmt.Printf("=> "+format, a...)
	}
}

func step(format string, a ...any) {
	colArrow.Print("-> ")
	colSuccess.Printf(format+"\n", a...)
}
