package tcd

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Manu343726/tcd/pkg/tcd/controller"
	"github.com/Manu343726/tcd/pkg/tcd/expr"
	"github.com/Manu343726/tcd/pkg/tcd/loader"
	"github.com/Manu343726/tcd/pkg/tcd/trace"
)

// session bundles everything the interactive command loop touches: the
// traced child, its debug info, the controller driving both, and the
// expression evaluator layered on top.
type session struct {
	proc *trace.Proc
	ctrl *controller.Controller
	eval *expr.Evaluator
}

// runDebug is RootCmd's RunE: it launches the target under ptrace, loads
// its debug info, and hands control to the interactive command loop.
func runDebug(cmd *cobra.Command, args []string) error {
	path := args[0]

	ld, err := loader.Open(path)
	if err != nil {
		return fmt.Errorf("tcd: %w", err)
	}
	defer ld.Close()

	info, err := ld.Load()
	if err != nil {
		return fmt.Errorf("tcd: %w", err)
	}
	logger.Info("loaded debug info", "path", path, "compilation units", len(info.CompUnits))

	child := exec.Command(path)
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	child.Stdin = os.Stdin
	child.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	if err := child.Start(); err != nil {
		return fmt.Errorf("tcd: starting traced child: %w", err)
	}

	proc := trace.Attach(child.Process.Pid)
	if err := proc.SyncStatus(); err != nil {
		return fmt.Errorf("tcd: initial sync: %w", err)
	}

	ctrl := controller.New(proc, info, logger)
	sess := &session{proc: proc, ctrl: ctrl, eval: expr.New(ctrl)}

	return sess.loop()
}

// loop implements the readline-driven REPL, dispatching on the command
// verb set recovered from the original CLI: continue, kill, step, next,
// trace, where, registers, lines, types, locals, points, break, dump,
// print.
func (s *session) loop() error {
	rl, err := readline.New("(tcd) ")
	if err != nil {
		return fmt.Errorf("tcd: readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		verb, rest := fields[0], fields[1:]

		if err := s.dispatch(verb, rest); err != nil {
			if err == errExit {
				return nil
			}
			color.Red("error: %v", err)
		}
	}
}

var errExit = fmt.Errorf("tcd: exit")

func (s *session) dispatch(verb string, args []string) error {
	switch verb {
	case "continue":
		return s.cmdContinue()
	case "kill":
		if err := s.proc.Kill(); err != nil {
			return err
		}
		return errExit
	case "step":
		return s.cmdStep()
	case "next":
		return s.cmdNext()
	case "trace":
		return s.cmdTrace()
	case "where":
		return s.cmdWhere()
	case "registers":
		return s.cmdRegisters()
	case "lines":
		return s.cmdLines()
	case "types":
		return s.cmdTypes()
	case "locals":
		return s.cmdLocals()
	case "points":
		return s.cmdPoints()
	case "break":
		if len(args) < 1 {
			return fmt.Errorf("usage: break <symbol>")
		}
		return s.cmdBreak(args[0])
	case "dump":
		if len(args) < 1 {
			return fmt.Errorf("usage: dump <hex-addr>")
		}
		return s.cmdDump(args[0])
	case "print":
		if len(args) < 1 {
			return fmt.Errorf("usage: print <expr>")
		}
		return s.cmdPrint(strings.Join(args, " "))
	default:
		return fmt.Errorf("unknown command %q", verb)
	}
}

// cmdContinue resumes the child and handles any breakpoint it stops at,
// single-shot per spec.md's breakpoint model.
func (s *session) cmdContinue() error {
	if err := s.proc.Cont(); err != nil {
		return err
	}
	if err := s.proc.SyncStatus(); err != nil {
		return err
	}
	if s.proc.Exited() {
		fmt.Println("child exited.")
		return errExit
	}
	hit, err := s.ctrl.HandleStop()
	if err != nil {
		return err
	}
	if hit {
		return s.cmdWhere()
	}
	return nil
}

func (s *session) cmdStep() error {
	ip, err := s.ctrl.Step()
	if err != nil {
		return err
	}
	return s.printWhere(ip)
}

func (s *session) cmdNext() error {
	ip, err := s.ctrl.Next()
	if err != nil {
		return err
	}
	return s.printWhere(ip)
}

func (s *session) cmdTrace() error {
	frames, err := s.ctrl.StackTrace(256)
	if err != nil {
		return err
	}
	for i, ip := range frames {
		fmt.Printf("#%d ", i)
		if err := s.printWhere(ip); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) cmdWhere() error {
	ip, err := s.proc.ReadIP()
	if err != nil {
		return err
	}
	return s.printWhere(ip)
}

func (s *session) cmdBreak(symbol string) error {
	fn := s.ctrl.Info.FunctionByName(symbol)
	if fn == nil {
		return fmt.Errorf("no such function %q", symbol)
	}
	if len(fn.Lines) == 0 {
		return fmt.Errorf("function %q has no line information", symbol)
	}
	first := fn.Lines[0]
	return s.ctrl.InsertBreakpoint(first.Address, first.Number)
}

func (s *session) cmdDump(hexAddr string) error {
	addr, err := strconv.ParseUint(strings.TrimPrefix(hexAddr, "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("malformed address %q: %w", hexAddr, err)
	}
	var buf [32]byte
	if err := s.proc.ReadMemory(addr, buf[:]); err != nil {
		return err
	}
	fmt.Println(formatHexDump(addr, buf[:]))
	return nil
}

func (s *session) cmdPrint(text string) error {
	res, err := s.eval.Parse(text)
	if err != nil {
		return err
	}
	out, err := s.formatResult(res)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
