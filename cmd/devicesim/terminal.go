package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paolino/air-gap-signer/deviceerr"
	"github.com/paolino/air-gap-signer/hardware"
)

// terminalDisplay renders the device's screen as plain lines on stdout.
// A real device has a small fixed-size panel; a terminal has none of
// those constraints, so this just prints whatever it is given.
type terminalDisplay struct{}

func (terminalDisplay) Clear() {
	fmt.Println(strings.Repeat("-", 40))
}

func (terminalDisplay) ShowMessage(lines []string) {
	fmt.Println(strings.Repeat("=", 40))
	for _, l := range lines {
		fmt.Println(l)
	}
	fmt.Println(strings.Repeat("=", 40))
}

func (terminalDisplay) ShowLines(lines []string, scrollOffset int) {
	fmt.Printf("--- review (line %d of %d) ---\n", scrollOffset+1, len(lines))
	for i, l := range lines {
		marker := "  "
		if i == scrollOffset {
			marker = "> "
		}
		fmt.Println(marker + l)
	}
}

// terminalButtons maps single-character stdin lines to the four
// physical button events: u(p), d(own), c(onfirm), r(eject).
type terminalButtons struct {
	in *bufio.Scanner
}

func newTerminalButtons() *terminalButtons {
	return &terminalButtons{in: bufio.NewScanner(os.Stdin)}
}

func (b *terminalButtons) WaitEvent(ctx context.Context) (hardware.ButtonEvent, error) {
	fmt.Print("button [u/d/c/r]> ")
	type result struct {
		ev  hardware.ButtonEvent
		err error
	}
	ch := make(chan result, 1)
	go func() {
		if !b.in.Scan() {
			ch <- result{err: deviceerr.New(deviceerr.SeOther, "stdin closed")}
			return
		}
		switch strings.TrimSpace(strings.ToLower(b.in.Text())) {
		case "u":
			ch <- result{ev: hardware.Up}
		case "d":
			ch <- result{ev: hardware.Down}
		case "c":
			ch <- result{ev: hardware.Confirm}
		case "r":
			ch <- result{ev: hardware.Reject}
		default:
			ch <- result{err: deviceerr.New(deviceerr.SeOther, "unrecognized button, expected one of u/d/c/r")}
		}
	}()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-ch:
		return r.ev, r.err
	}
}

// dirStorage treats a host directory as removable storage: "inserting"
// it is the operator confirming, at a prompt, that the directory
// already holds the files this cycle needs (or is ready to receive
// them). MountReadonly/MountReadwrite/Unmount are bookkeeping only;
// nothing actually changes permissions on disk, since a real device's
// read-only mount exists to protect against a malicious card, a
// guarantee this simulator cannot provide anyway.
type dirStorage struct {
	dir     string
	in      *bufio.Scanner
	mounted bool
}

func newDirStorage(dir string) *dirStorage {
	return &dirStorage{dir: dir, in: bufio.NewScanner(os.Stdin)}
}

func (d *dirStorage) WaitInsert(ctx context.Context) error {
	fmt.Printf("insert storage: press Enter once %s is ready> ", d.dir)
	ch := make(chan error, 1)
	go func() {
		d.in.Scan()
		ch <- nil
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-ch:
		return err
	}
}

func (d *dirStorage) MountReadonly() error {
	if _, err := os.Stat(d.dir); err != nil {
		return deviceerr.Wrap(deviceerr.StorageIO, "stat storage directory", err)
	}
	d.mounted = true
	return nil
}

func (d *dirStorage) MountReadwrite() error {
	if err := os.MkdirAll(d.dir, 0700); err != nil {
		return deviceerr.Wrap(deviceerr.StorageIO, "create storage directory", err)
	}
	d.mounted = true
	return nil
}

func (d *dirStorage) Unmount() error {
	d.mounted = false
	return nil
}

func (d *dirStorage) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(d.dir, name))
	if err != nil {
		return nil, deviceerr.Wrap(deviceerr.StorageIO, "read "+name, err)
	}
	return data, nil
}

func (d *dirStorage) Write(name string, data []byte) error {
	if err := os.WriteFile(filepath.Join(d.dir, name), data, 0600); err != nil {
		return deviceerr.Wrap(deviceerr.StorageIO, "write "+name, err)
	}
	return nil
}
