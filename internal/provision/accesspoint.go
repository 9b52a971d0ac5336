package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrAPBusy is returned when access point commands are backed up.
var ErrAPBusy = errors.New("access point commands pending")

// AccessPoint broadcasts the local configuration network. Start and Stop are
// called from the control loop and must not block on the host.
type AccessPoint interface {
	Start(ssid string) error
	Stop() error
}

// LogAccessPoint only logs. Used when the host brings up its own AP.
type LogAccessPoint struct {
	Log logrus.FieldLogger
}

// Start logs the SSID that should be broadcast.
func (a LogAccessPoint) Start(ssid string) error {
	a.logger().WithField("ssid", ssid).Info("access point up")
	return nil
}

// Stop logs the access point shutdown.
func (a LogAccessPoint) Stop() error {
	a.logger().Info("access point down")
	return nil
}

func (a LogAccessPoint) logger() logrus.FieldLogger {
	if a.Log == nil {
		return logrus.StandardLogger()
	}
	return a.Log
}

// CommandResult is the outcome of one access point command.
type CommandResult struct {
	Op      string // "start" or "stop"
	SSID    string
	Command string
	Output  string
	Err     error
}

type apOp struct {
	name    string
	command string
	ssid    string
}

const apQueueSize = 4

// CommandAccessPoint runs host commands to start and stop the access point.
// Commands run in order on a worker goroutine through bash -c with AP_SSID
// set in the environment; outcomes are delivered on Results.
type CommandAccessPoint struct {
	StartCommand string
	StopCommand  string
	Timeout      time.Duration
	Log          logrus.FieldLogger

	// run executes a shell command; replaced in tests.
	run     func(ctx context.Context, command string, env []string) ([]byte, error)
	ssid    string
	ops     chan apOp
	results chan CommandResult
	done    chan struct{}
	once    sync.Once
}

// NewCommandAccessPoint creates an access point driven by shell commands and
// starts its worker. Call Close to stop it.
func NewCommandAccessPoint(start, stop string, log logrus.FieldLogger) *CommandAccessPoint {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &CommandAccessPoint{
		StartCommand: start,
		StopCommand:  stop,
		Timeout:      30 * time.Second,
		Log:          log,
		run:          runShell,
		ops:          make(chan apOp, apQueueSize),
		results:      make(chan CommandResult, apQueueSize),
		done:         make(chan struct{}),
	}
	go a.work()
	return a
}

// Results delivers the outcome of every command that ran.
func (a *CommandAccessPoint) Results() <-chan CommandResult {
	return a.results
}

// Start queues the start command for ssid.
func (a *CommandAccessPoint) Start(ssid string) error {
	a.ssid = ssid
	return a.enqueue(apOp{name: "start", command: a.StartCommand, ssid: ssid})
}

// Stop queues the stop command.
func (a *CommandAccessPoint) Stop() error {
	return a.enqueue(apOp{name: "stop", command: a.StopCommand, ssid: a.ssid})
}

// Close waits for queued commands to run, then stops the worker. Start and
// Stop must not be called after Close.
func (a *CommandAccessPoint) Close() {
	a.once.Do(func() { close(a.ops) })
	<-a.done
}

func (a *CommandAccessPoint) enqueue(op apOp) error {
	if op.command == "" {
		return nil
	}
	select {
	case a.ops <- op:
		return nil
	default:
		return fmt.Errorf("%s access point: %w", op.name, ErrAPBusy)
	}
}

func (a *CommandAccessPoint) work() {
	defer close(a.done)
	for op := range a.ops {
		ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
		out, err := a.run(ctx, op.command, []string{"AP_SSID=" + op.ssid})
		cancel()

		res := CommandResult{Op: op.name, SSID: op.ssid, Command: op.command, Output: string(out)}
		if err != nil {
			res.Err = fmt.Errorf("%s access point: %w", op.name, err)
		}
		select {
		case a.results <- res:
		default:
			a.Log.WithField("op", op.name).Warn("access point result dropped")
		}
	}
}

func runShell(ctx context.Context, command string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}
