package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"judgeflow/internal/cli/client"
	"judgeflow/internal/job"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

// Session holds REPL state.
type Session struct {
	client *client.Client
	rl     *readline.Instance
}

// New creates a REPL session around the client.
func New(c *client.Client) (*Session, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "judgeflow> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".judgeflow_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("run"),
			readline.PcItem("submit"),
			readline.PcItem("status"),
			readline.PcItem("watch"),
			readline.PcItem("set", readline.PcItem("base")),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
	})
	if err != nil {
		return nil, err
	}
	return &Session{client: c, rl: rl}, nil
}

// Run reads and executes commands until exit or EOF.
func (s *Session) Run(ctx context.Context) {
	defer s.rl.Close()
	s.printLine("judgeflow cli, type 'help' for commands")
	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			s.printLine("read input failed: %v", err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			s.printLine("bye")
			return
		}
		if err := s.handleCommand(ctx, line); err != nil {
			s.printLine("error: %v", err)
		}
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	switch tokens[0] {
	case "help":
		s.printHelp()
		return nil
	case "set":
		return s.handleSet(tokens[1:])
	case "run":
		return s.handleSubmit(ctx, tokens[1:], false)
	case "submit":
		return s.handleSubmit(ctx, tokens[1:], true)
	case "status":
		return s.handleStatus(ctx, tokens[1:])
	case "watch":
		return s.handleWatch(ctx, tokens[1:])
	default:
		return fmt.Errorf("unknown command: %s", tokens[0])
	}
}

func (s *Session) handleSet(args []string) error {
	if len(args) != 2 || args[0] != "base" {
		return fmt.Errorf("usage: set base http://127.0.0.1:8080")
	}
	s.client.SetBaseURL(args[1])
	s.printLine("base set to %s", s.client.BaseURL())
	return nil
}

// handleSubmit enqueues a job from key=value params and, unless nowatch is
// given, streams its updates until the terminal one.
func (s *Session) handleSubmit(ctx context.Context, args []string, isSubmission bool) error {
	params, err := parseParams(args)
	if err != nil {
		return err
	}

	req := client.SubmitRequest{
		Stdin:          params["stdin"],
		ExpectedOutput: params["expected"],
		IsSubmission:   isSubmission,
	}
	switch {
	case params["file"] != "":
		data, err := os.ReadFile(params["file"])
		if err != nil {
			return fmt.Errorf("read source file failed: %w", err)
		}
		req.SourceCode = string(data)
	case params["code"] != "":
		req.SourceCode = params["code"]
	default:
		return fmt.Errorf("file=<path> or code=<source> is required")
	}
	if params["language"] == "" {
		return fmt.Errorf("language=<id> is required")
	}
	if req.LanguageID, err = strconv.Atoi(params["language"]); err != nil {
		return fmt.Errorf("invalid language id: %w", err)
	}
	if params["problem"] != "" {
		if req.ProblemID, err = strconv.ParseInt(params["problem"], 10, 64); err != nil {
			return fmt.Errorf("invalid problem id: %w", err)
		}
	}

	result, err := s.client.Submit(ctx, req)
	if err != nil {
		return err
	}
	s.printLine("token: %s", result.Token)
	s.printLine("job:   %s", result.JobID)

	if params["nowatch"] == "true" {
		return nil
	}
	return s.watch(ctx, result.Token)
}

func (s *Session) handleStatus(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: status <token>")
	}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	update, err := s.client.Status(reqCtx, args[0])
	if err != nil {
		return err
	}
	s.printUpdate(update)
	return nil
}

func (s *Session) handleWatch(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: watch <token>")
	}
	return s.watch(ctx, args[0])
}

func (s *Session) watch(ctx context.Context, token string) error {
	watchCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	s.printLine("watching %s ...", token)
	return s.client.Watch(watchCtx, token, s.printUpdate)
}

func (s *Session) printUpdate(update job.SubmissionUpdate) {
	s.printLine("[%s]", update.Status)
	if update.Output != "" {
		s.printLine("%s", strings.TrimRight(update.Output, "\n"))
	}
	if update.Error != "" {
		s.printLine("error: %s", update.Error)
	}
}

func parseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid param: %s (want key=value)", arg)
		}
		params[strings.ToLower(parts[0])] = parts[1]
	}
	return params, nil
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	s.printLine("  run    file=./main.py language=71 [stdin=...] [nowatch=true]")
	s.printLine("  submit file=./main.py language=71 problem=1 [expected=...]")
	s.printLine("  status <token>")
	s.printLine("  watch  <token>")
	s.printLine("  set base http://127.0.0.1:8080")
	s.printLine("  help | exit")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.rl.Stdout(), format+"\n", args...)
}
