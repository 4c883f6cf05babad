package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/duckofyork/tinkerpop/cli"
	"github.com/duckofyork/tinkerpop/errors"
)

const (
	prompt             = "gremlin> "
	continuationPrompt = "         "
	continuation       = `\`
)

type ShellCommand struct {
	VI bool `help:"Enable VI mode."`
}

// Run reads scripts from the terminal until EOF or CTRL-C. A line ending with a backslash is continued on the next
// line.
func (c *ShellCommand) Run(cl *cli.Cli) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return errors.WithStack(err)
	}
	rl, err := readline.NewEx(&readline.Config{
		HistoryFile:            filepath.Join(home, ".gremlinsh.history"),
		DisableAutoSaveHistory: true,
		VimMode:                c.VI,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	defer func() {
		_ = rl.Close()
	}()
	for {
		rl.SetPrompt(prompt)
		var lines []string
		for {
			line, err := rl.Readline()
			if err == io.EOF {
				return nil
			}
			if err == readline.ErrInterrupt {
				return nil
			}
			if err != nil {
				return errors.WithStack(err)
			}
			line = strings.TrimSpace(line)
			if line == "" && len(lines) == 0 {
				continue
			}
			if strings.HasSuffix(line, continuation) {
				lines = append(lines, strings.TrimSuffix(line, continuation))
				rl.SetPrompt(continuationPrompt)
				continue
			}
			lines = append(lines, line)
			break
		}
		statement := strings.Join(lines, "\n")
		_ = rl.SaveHistory(statement)
		if err := c.SendStatement(statement, cl); err != nil {
			return errors.WithStack(err)
		}
	}
}

func (c *ShellCommand) SendStatement(statement string, cl *cli.Cli) error {
	ch, err := cl.ExecuteStatement(statement)
	if err != nil {
		return errors.WithStack(err)
	}
	for line := range ch {
		fmt.Println(line)
	}
	return nil
}
