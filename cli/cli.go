package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/duckofyork/tinkerpop/common"
	"github.com/duckofyork/tinkerpop/conf"
	"github.com/duckofyork/tinkerpop/driver"
	"github.com/duckofyork/tinkerpop/errors"
	log "github.com/duckofyork/tinkerpop/logger"
	"github.com/duckofyork/tinkerpop/protocol"
)

const (
	maxBufferedLines     = 1000
	defaultMaxLineWidth  = 120
	minLineWidth         = 10
	maxLineWidth         = 10000
	defaultTimeout       = time.Minute
	maxLineWidthPropName = "max_line_width"
	batchSizePropName    = "batch_size"
	timeoutPropName      = "timeout"
	resultPrefix         = "==>"
)

var (
	statusStyle = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Cli runs console statements against a Gremlin server. A statement is either a set command changing a console
// property or a script, which is submitted for evaluation and has its results streamed back one line per item.
type Cli struct {
	lock         sync.Mutex
	started      bool
	cfg          conf.ClientConf
	opts         []driver.Option
	client       *driver.Client
	maxLineWidth int
	batchSize    int
	timeout      time.Duration
	exitOnError  bool
}

func NewCli(cfg conf.ClientConf, opts ...driver.Option) *Cli {
	return &Cli{
		cfg:          cfg,
		opts:         opts,
		maxLineWidth: defaultMaxLineWidth,
		timeout:      defaultTimeout,
	}
}

func (c *Cli) Start() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.started {
		return nil
	}
	var err error
	c.client, err = driver.NewClient(c.cfg, c.opts...)
	if err != nil {
		return err
	}
	c.started = true
	return nil
}

func (c *Cli) Stop() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.started {
		return nil
	}
	c.started = false
	return c.client.Close()
}

func (c *Cli) SetExitOnError(exitOnError bool) {
	c.exitOnError = exitOnError
}

// ExecuteStatement runs the statement in the background. Output lines are sent on the returned channel, which is
// closed once the statement is done.
func (c *Cli) ExecuteStatement(statement string) (chan string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.started {
		return nil, errors.Error("not started")
	}
	statement = strings.TrimSpace(statement)
	statement = strings.TrimSuffix(statement, ";")
	ch := make(chan string, maxBufferedLines)
	common.Go("cli-statement", func() {
		c.doExecuteStatement(statement, ch)
	})
	return ch, nil
}

func (c *Cli) doExecuteStatement(statement string, ch chan string) {
	defer close(ch)
	lowerStat := strings.ToLower(statement)
	if lowerStat == "set" || strings.HasPrefix(lowerStat, "set ") {
		if err := c.handleSetCommand(lowerStat); err != nil {
			ch <- errorStyle.Render(err.Error())
			return
		}
		ch <- statusStyle.Render("OK")
		return
	}
	count, err := c.executeScript(statement, ch)
	if err != nil {
		ch <- errorStyle.Render(c.checkErrorAndMaybeExit(err).Error())
		return
	}
	if count == 1 {
		ch <- statusStyle.Render("1 result returned")
	} else {
		ch <- statusStyle.Render(fmt.Sprintf("%d results returned", count))
	}
}

func (c *Cli) handleSetCommand(statement string) error {
	parts := strings.Fields(statement)
	if len(parts) != 3 {
		return errors.Error("Invalid set command. Should be set <prop_name> <prop_value>")
	}
	propName, propVal := parts[1], parts[2]
	c.lock.Lock()
	defer c.lock.Unlock()
	switch propName {
	case maxLineWidthPropName:
		width, err := strconv.Atoi(propVal)
		if err != nil || width < minLineWidth || width > maxLineWidth {
			return errors.Errorf("Invalid %s value: %s", maxLineWidthPropName, propVal)
		}
		c.maxLineWidth = width
	case batchSizePropName:
		size, err := strconv.Atoi(propVal)
		if err != nil || size < 0 {
			return errors.Errorf("Invalid %s value: %s", batchSizePropName, propVal)
		}
		c.batchSize = size
	case timeoutPropName:
		timeout, err := time.ParseDuration(propVal)
		if err != nil || timeout <= 0 {
			return errors.Errorf("Invalid %s value: %s", timeoutPropName, propVal)
		}
		c.timeout = timeout
	default:
		return errors.Errorf("Unknown property: %s", propName)
	}
	return nil
}

func (c *Cli) executeScript(script string, out chan string) (int, error) {
	c.lock.Lock()
	client := c.client
	batchSize := c.batchSize
	timeout := c.timeout
	lineWidth := c.maxLineWidth
	c.lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	msg := protocol.NewEvalRequest(script, nil)
	if batchSize > 0 {
		msg = msg.WithArg(protocol.ArgBatchSize, batchSize)
	}
	rs, err := client.Stream(ctx, msg)
	if err != nil {
		return 0, err
	}
	count := 0
	for {
		batch, ok, err := rs.Next(ctx)
		if err != nil {
			return count, err
		}
		if !ok {
			return count, nil
		}
		for _, item := range batch {
			out <- formatLine(item, lineWidth)
			count++
		}
	}
}

func formatLine(item interface{}, width int) string {
	line := resultPrefix + fmt.Sprintf("%v", item)
	if len(line) > width {
		line = line[:width-2] + ".."
	}
	return line
}

// checkErrorAndMaybeExit passes on errors reported by the server. Any other error means the server could not be
// reached, which ends the console if it runs a single command.
func (c *Cli) checkErrorAndMaybeExit(err error) error {
	var derr errors.DriverError
	if errors.As(err, &derr) {
		switch derr.Code {
		case errors.ServerError, errors.ProtocolError, errors.Timeout:
			return derr
		}
	}
	if c.exitOnError {
		log.Errorf("connection error. Will exit. %v", err)
		os.Exit(1)
		return nil
	}
	return errors.Errorf("connection error: %v", err)
}
