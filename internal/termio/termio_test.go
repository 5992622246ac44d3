// The test below is skipped when stdin is not a terminal (ErrNoTTY), which
// is always true under "go test" since it redirects the test binary's
// standard streams. Build a test binary and run it directly against a real
// tty to exercise it:
//
//	$ go test -c && ./termio.test
package termio_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/quark-os/quark/internal/term"
	"github.com/quark-os/quark/internal/termio"
)

func TestConsoleBridgesKeystrokesToActiveTerminal(t *testing.T) {
	terminals := term.NewManager()

	console, err := termio.NewConsole(os.Stdin, os.Stdout, terminals)
	if errors.Is(err, termio.ErrNoTTY) {
		t.Skipf("not a tty: %v", err)
	}

	if err != nil {
		t.Fatalf("NewConsole: %v", err)
	}

	defer console.Restore()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = console.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: %v, want a context cancellation", err)
	}
}
