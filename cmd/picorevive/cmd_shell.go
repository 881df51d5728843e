package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/picorevive/picorevive/pkg/app"
	"github.com/picorevive/picorevive/pkg/assets"
	"github.com/picorevive/picorevive/pkg/flash"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive console that keeps watching drives while you work",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return runShell(cmd.Context(), a, os.Stdin, cmd.OutOrStdout())
	},
}

const shellHelp = `Commands:
  list                      list drives
  select <path>             select a drive
  refresh                   forget the selection and look again
  status                    show the selected drive
  assets                    show firmware images
  asset <kind> <path>       use a file for nuke, micro, alternate or custom
  flash <kind>              erase the board and write micro, alternate or custom
  reset                     erase the board with the nuke image
  bootloader [port]         reboot a running board into the bootloader
  quit`

// console serialises output from the prompt and background goroutines.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

type shell struct {
	a     *app.App
	out   *console
	lines <-chan string
	wg    sync.WaitGroup
}

func runShell(ctx context.Context, a *app.App, in io.Reader, out io.Writer) error {
	sh := &shell{a: a, out: &console{w: out}}

	events, cancel := a.Poller.Subscribe(1)
	defer cancel()
	if err := a.ProbeErr; err != nil {
		sh.out.Printf("Warning: %v\n", err)
	} else if err := a.Poller.Start(ctx); err != nil {
		return err
	}
	if err := a.Missing(); err != nil {
		sh.out.Printf("Warning: %v\n", err)
	}

	go func() {
		for ev := range events {
			if ev.Transition {
				sh.out.Printf("%s\n", eventLine(ev))
			}
		}
	}()

	lines := make(chan string)
	go readLines(ctx, in, lines)
	sh.lines = lines

	sh.out.Printf("%s\n", shellHelp)
	defer sh.drain()
	for {
		sh.out.Printf("> ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			return nil
		}
		if quit := sh.exec(ctx, strings.Fields(line)); quit {
			return nil
		}
	}
}

// readLines sends the lines of in until it runs out or ctx is done. A
// pending Read on in is not interrupted.
func readLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}

// drain waits for a running operation; the board cannot be left halfway.
func (s *shell) drain() {
	if s.a.Sequencer.Busy() {
		s.out.Printf("Waiting for the running operation to finish...\n")
	}
	s.wg.Wait()
}

func (s *shell) exec(ctx context.Context, f []string) bool {
	if len(f) == 0 {
		return false
	}
	switch f[0] {
	case "quit", "exit":
		return true
	case "help", "?":
		s.out.Printf("%s\n", shellHelp)
	case "list", "drives":
		var b strings.Builder
		printDrives(&b, s.a)
		s.out.Printf("%s", b.String())
	case "select":
		if len(f) != 2 {
			s.out.Printf("usage: select <path>\n")
			return false
		}
		sel, err := s.a.SelectDrive(f[1])
		if err != nil {
			s.out.Printf("Error: %v\n", err)
			return false
		}
		s.out.Printf("%s\n", statusLine(&sel))
	case "refresh":
		s.a.Poller.Refresh()
		if ev, ok := s.a.Poller.Poll(); ok {
			s.out.Printf("%s\n", eventLine(ev))
		}
	case "status":
		ev, ok := s.a.Poller.Latest()
		if !ok {
			s.out.Printf("No drive scan yet\n")
			return false
		}
		s.out.Printf("%s\n", eventLine(ev))
	case "assets":
		for _, as := range s.a.Assets().All() {
			s.out.Printf("%s\n", as)
		}
		if err := s.a.Missing(); err != nil {
			s.out.Printf("Warning: %v\n", err)
		}
	case "asset":
		if len(f) != 3 {
			s.out.Printf("usage: asset <kind> <path>\n")
			return false
		}
		kind, err := assets.ParseKind(f[1])
		if err != nil {
			s.out.Printf("Error: %v\n", err)
			return false
		}
		as, err := s.a.SelectAsset(kind, f[2])
		if err != nil {
			s.out.Printf("Error: %v\n", err)
			return false
		}
		s.out.Printf("Using %s\n", as)
	case "flash":
		if len(f) != 2 {
			s.out.Printf("usage: flash <micro|alternate|custom>\n")
			return false
		}
		kind, err := assets.ParseKind(f[1])
		if err != nil || kind == assets.KindNuke {
			s.out.Printf("Error: choose micro, alternate or custom\n")
			return false
		}
		drive, ok := s.gate()
		if !ok {
			return false
		}
		s.run(func() (*flash.Task, error) { return s.a.Flash(ctx, kind, drive) })
	case "reset":
		drive, ok := s.gate()
		if !ok {
			return false
		}
		if !s.confirm(ctx, fmt.Sprintf("This erases everything on %s. Continue? [y/N] ", drive)) {
			s.out.Printf("Cancelled\n")
			return false
		}
		s.run(func() (*flash.Task, error) { return s.a.Reset(ctx, drive) })
	case "bootloader":
		port := ""
		if len(f) > 1 {
			port = f[1]
		}
		s.out.Printf("Resetting into the bootloader...\n")
		v, err := s.a.EnterBootloader(ctx, port)
		if err != nil {
			s.out.Printf("Error: %v\n", err)
			return false
		}
		s.out.Printf("Bootloader drive at %s\n", v.Path)
	default:
		s.out.Printf("Unknown command %q, try help\n", f[0])
	}
	return false
}

// gate applies the latest poll: destructive commands need an idle sequencer
// and a selected bootloader drive.
func (s *shell) gate() (string, bool) {
	if cur := s.a.Sequencer.Current(); cur != nil {
		s.out.Printf("Busy: %s is %s\n", cur.Op(), cur.State())
		return "", false
	}
	ev, ok := s.a.Poller.Latest()
	if !ok || !ev.Flashable {
		s.out.Printf("%s: a board in bootloader mode must be selected\n", eventLine(ev))
		return "", false
	}
	return ev.Selection.Volume.Path, true
}

func (s *shell) confirm(ctx context.Context, prompt string) bool {
	s.out.Printf("%s", prompt)
	select {
	case <-ctx.Done():
		return false
	case line, ok := <-s.lines:
		if !ok {
			return false
		}
		ans := strings.ToLower(strings.TrimSpace(line))
		return ans == "y" || ans == "yes"
	}
}

func (s *shell) run(start func() (*flash.Task, error)) {
	t, err := start()
	if err != nil {
		s.out.Printf("Error: %v\n", err)
		return
	}
	s.out.Printf("Started %s\n", t.Op())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		<-t.Done()
		res, err := t.Result()
		switch {
		case err != nil:
			s.out.Printf("%s failed: %v\n", t.Op(), err)
		case res.Warning != nil:
			s.out.Printf("%s finished with a warning: %v\n", t.Op(), res.Warning)
		default:
			s.out.Printf("%s finished on %s\n", t.Op(), res.Volume.Path)
		}
	}()
}
