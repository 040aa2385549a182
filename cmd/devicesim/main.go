// Command devicesim drives the orchestrator state machine from a
// terminal: buttons are single keystrokes, the display is stdout, and
// removable storage is a host directory the operator fills in between
// prompts. It exists to exercise the real Device/transition table
// against something other than in-memory test fakes.
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	cosmoslog "cosmossdk.io/log"

	"github.com/paolino/air-gap-signer/orchestrator"
	"github.com/paolino/air-gap-signer/sandbox"
	"github.com/paolino/air-gap-signer/secureelement"
)

func main() {
	storageDir := flag.String("storage-dir", "./devicesim-data", "host directory standing in for removable storage")
	sePath := flag.String("se-file", "./devicesim-se.json", "path to the file-backed secure element state")
	quiet := flag.Bool("quiet", false, "suppress the device's structured transition log")
	flag.Parse()

	fmt.Println("=== air-gap-signer terminal simulator ===")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Println("1. Opening file-backed secure element...")
	se, err := secureelement.NewFile(*sePath)
	if err != nil {
		stdlog.Fatalf("open secure element: %v", err)
	}

	fmt.Println("2. Starting the wazero sandbox runtime...")
	sbox := sandbox.New(ctx)
	defer sbox.Close(context.Background())

	fmt.Println("3. Wiring terminal display, buttons, and storage...")
	disp := terminalDisplay{}
	buttons := newTerminalButtons()
	storage := newDirStorage(*storageDir)

	fmt.Println("4. Building the device state machine...")
	logger := cosmoslog.NewNopLogger()
	if !*quiet {
		logger = cosmoslog.NewLogger(os.Stderr)
	}
	device, err := orchestrator.NewDevice(disp, buttons, storage, se, sbox, logger)
	if err != nil {
		stdlog.Fatalf("build device: %v", err)
	}

	fmt.Println("5. Running. Use u/d to move, c to confirm, r to reject at each prompt.")
	fmt.Println()
	if err := device.Run(ctx); err != nil {
		stdlog.Fatalf("device run stopped: %v", err)
	}

	fmt.Println()
	fmt.Printf("device reached state %s\n", device.State())
}
