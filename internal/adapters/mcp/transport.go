package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/herrald/beacon/internal/domain"
)

// Transport moves JSON-RPC messages between the client and one tool server.
type Transport interface {
	// Send sends a message to the tool server
	Send(ctx context.Context, message any) error

	// Receive returns a channel for receiving messages from the tool server
	Receive() <-chan Message

	// Close closes the transport
	Close() error

	// IsConnected returns true if the transport is connected
	IsConnected() bool
}

// Message represents a message received from the transport
type Message struct {
	Data  []byte
	Error error
}

// StdioTransport runs a tool server as a child process and speaks
// newline-delimited JSON over its standard streams.
type StdioTransport struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	receiveCh chan Message
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup // tracks goroutines that send on receiveCh
	mu        sync.RWMutex
	connected bool
	exitErr   error
}

// validateCommand rejects commands and arguments that could smuggle shell
// syntax, and resolves the command against PATH.
func validateCommand(command string, args []string) (string, error) {
	if command == "" {
		return "", fmt.Errorf("command cannot be empty")
	}

	shellMetaChars := regexp.MustCompile(`[;&|$` + "`" + `\(\)<>]`)
	if shellMetaChars.MatchString(command) {
		return "", fmt.Errorf("command contains invalid characters")
	}

	cmdPath, err := exec.LookPath(command)
	if err != nil {
		return "", fmt.Errorf("command not found: %s", command)
	}

	for i, arg := range args {
		if shellMetaChars.MatchString(arg) {
			return "", fmt.Errorf("argument %d contains invalid characters", i)
		}
	}

	return cmdPath, nil
}

// NewStdioTransport spawns the command and wires its pipes. extraEnv entries
// (KEY=VALUE) are appended after the parent environment and the configured
// server environment, so resolved credentials win.
func NewStdioTransport(command string, args, env, extraEnv []string) (*StdioTransport, error) {
	cmdPath, err := validateCommand(command, args)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid command: %v", domain.ErrConnectFailed, err)
	}

	cmd := exec.Command(cmdPath, args...)
	cmd.Env = append(append(os.Environ(), env...), extraEnv...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	transport := &StdioTransport{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    stdout,
		stderr:    stderr,
		receiveCh: make(chan Message, 10),
		closeCh:   make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("%w: failed to start command: %v", domain.ErrConnectFailed, err)
	}

	transport.mu.Lock()
	transport.connected = true
	transport.mu.Unlock()

	// Track goroutines that may send to receiveCh
	transport.wg.Add(2) // readLoop and monitorProcess

	go transport.readLoop()
	go transport.readStderr()
	go transport.monitorProcess()

	return transport, nil
}

// Send writes one newline-delimited JSON message to the child's stdin.
func (t *StdioTransport) Send(ctx context.Context, message any) error {
	t.mu.RLock()
	if !t.connected {
		exitErr := t.exitErr
		t.mu.RUnlock()
		if exitErr != nil {
			return exitErr
		}
		return fmt.Errorf("%w: transport not connected", domain.ErrConnectFailed)
	}
	t.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	data = append(data, '\n')

	if _, err := t.stdin.Write(data); err != nil {
		// A write error to a dead child is reported as the exit, not as
		// the broken pipe it caused. The monitor may lag the pipe error
		// by a scheduling quantum, so give it a moment.
		for i := 0; i < 20; i++ {
			t.mu.RLock()
			exitErr := t.exitErr
			t.mu.RUnlock()
			if exitErr != nil {
				return exitErr
			}
			time.Sleep(5 * time.Millisecond)
		}
		return fmt.Errorf("%w: failed to write message: %v", domain.ErrConnectFailed, err)
	}

	return nil
}

// Receive returns a channel for receiving messages
func (t *StdioTransport) Receive() <-chan Message {
	return t.receiveCh
}

// Close kills the child process and tears down the pipes.
func (t *StdioTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closeCh)

		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()

		if t.stdin != nil {
			t.stdin.Close()
		}

		if t.cmd != nil && t.cmd.Process != nil {
			if killErr := t.cmd.Process.Kill(); killErr != nil {
				err = killErr
			}
		}

		if t.stdout != nil {
			t.stdout.Close()
		}

		if t.stderr != nil {
			t.stderr.Close()
		}

		// Wait for all senders to finish, then close receiveCh.
		// A goroutine keeps Close from blocking on a wedged reader.
		go func() {
			t.wg.Wait()
			close(t.receiveCh)
		}()
	})
	return err
}

// IsConnected returns true if the transport is connected
func (t *StdioTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// readLoop reads messages from stdout
func (t *StdioTransport) readLoop() {
	defer t.wg.Done()

	scanner := bufio.NewScanner(t.stdout)
	// Larger scanner buffer for big tool results
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024) // 1MB max

	for {
		select {
		case <-t.closeCh:
			return
		default:
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					select {
					case t.receiveCh <- Message{Error: fmt.Errorf("%w: scanner error: %v", domain.ErrProtocolError, err)}:
					case <-t.closeCh:
					}
				}
				return
			}

			data := scanner.Bytes()
			if len(data) == 0 {
				continue
			}

			// Copy out, the scanner reuses its buffer
			dataCopy := make([]byte, len(data))
			copy(dataCopy, data)

			select {
			case t.receiveCh <- Message{Data: dataCopy}:
			case <-t.closeCh:
				return
			}
		}
	}
}

// readStderr drains and logs the child's stderr so the pipe never fills.
func (t *StdioTransport) readStderr() {
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			slog.Debug("tool server stderr", "line", line)
		}
	}
}

// monitorProcess surfaces process exit as a transport error.
func (t *StdioTransport) monitorProcess() {
	defer t.wg.Done()

	err := t.cmd.Wait()
	if err == nil {
		err = fmt.Errorf("clean exit")
	}
	exitErr := fmt.Errorf("%w: process exited: %v", domain.ErrConnectFailed, err)

	t.mu.Lock()
	wasConnected := t.connected
	t.connected = false
	t.exitErr = exitErr
	t.mu.Unlock()

	if !wasConnected {
		return
	}

	select {
	case t.receiveCh <- Message{Error: exitErr}:
	case <-t.closeCh:
	}
}
