package wasmbuild

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// ErrUserDeclined signals a clean abort: the user chose not to reuse an
// existing build directory. Not a failure.
var ErrUserDeclined = errors.New("declined to reuse existing build directory")

// stdin is a variable so tests can feed canned answers.
var stdin io.Reader = os.Stdin

// interactiveMu ensures only one prompt reads stdin at a time.
var interactiveMu sync.Mutex

func askForConfirmation(format string, a ...any) bool {
	interactiveMu.Lock()
	defer interactiveMu.Unlock()

	reader := bufio.NewReader(stdin)
	prompt := fmt.Sprintf(format, a...)

	for {
		colNote.Printf("%s [Y/n]: ", prompt)
		response, err := reader.ReadString('\n')
		if err != nil {
			return false // EOF or closed stdin defaults to "no"
		}
		response = strings.ToLower(strings.TrimSpace(response))
		switch response {
		case "y", "yes", "":
			return true
		case "n", "no":
			return false
		}
		colWarn.Println("Invalid input.")
	}
}

// checkBuildDir prompts before an existing stage output directory is
// reused. A directory that does not exist yet passes through untouched;
// the stage creates it. Declining aborts the whole run via
// ErrUserDeclined.
func checkBuildDir(dir, label string) error {
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cannot stat %s: %w", dir, err)
	}
	if !askForConfirmation("%s exists at %s. Use existing?", label, dir) {
		return ErrUserDeclined
	}
	return nil
}
