package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mastercactapus/grblctl/machine/grbl"
)

// console is an interactive terminal on the controller. Lines are sent
// as commands; lines starting with ':' control the console itself.
type console struct {
	c  *grbl.Controller
	rl *readline.Instance
}

func newConsole() (*console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "grbl> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("create readline: %w", err)
	}
	return &console{rl: rl}, nil
}

const consoleHelp = `commands:
  :status          show the mirrored machine state
  :start :pause :resume :stop :home :unlock :reset
  :quit            exit
anything else is sent to the controller`

// Run reads commands for c until the input ends or ctx is done.
func (con *console) Run(ctx context.Context, cancel context.CancelFunc, c *grbl.Controller) {
	defer con.rl.Close()
	con.c = c

	stop := con.c.Traffic.Subscribe(func(t grbl.Traffic) {
		if t.Direction == grbl.DirectionIn && strings.HasPrefix(t.Line, "<") {
			return
		}
		fmt.Fprintf(con.rl.Stdout(), "%s %s\n", arrow(t.Direction), t.Line)
	})
	defer stop()

	go func() {
		<-ctx.Done()
		con.rl.Close()
	}()

	for {
		line, err := con.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			cancel()
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := con.exec(line); err != nil {
			if err == io.EOF {
				cancel()
				return
			}
			fmt.Fprintln(con.rl.Stderr(), "error:", err)
		}
	}
}

func arrow(d grbl.Direction) string {
	if d == grbl.DirectionOut {
		return ">"
	}
	return "<"
}

func (con *console) exec(line string) error {
	if !strings.HasPrefix(line, ":") {
		return con.c.Command(line)
	}
	switch strings.ToLower(line[1:]) {
	case "quit", "exit":
		return io.EOF
	case "help":
		fmt.Fprintln(con.rl.Stdout(), consoleHelp)
	case "status":
		s := con.c.Mirror().Snapshot()
		fmt.Fprintf(con.rl.Stdout(), "%s mpos=%.3f,%.3f,%.3f wpos=%.3f,%.3f,%.3f planner=%d buffer=%d %s %s\n",
			s.State, s.MPos.X, s.MPos.Y, s.MPos.Z, s.WPos.X, s.WPos.Y, s.WPos.Z,
			s.PlannerUsed, con.c.Buffer().Used(), s.Context.Unit, s.Context.CoordinateSystem)
	case "start":
		return con.c.StartMotion()
	case "pause":
		return con.c.PauseMotion()
	case "resume":
		return con.c.ResumeMotion()
	case "stop":
		return con.c.StopMotion()
	case "home":
		return con.c.Home()
	case "unlock":
		return con.c.Unlock()
	case "reset":
		return con.c.Reset()
	default:
		return fmt.Errorf("unknown command '%s', try :help", line)
	}
	return nil
}
