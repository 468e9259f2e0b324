package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

const defaultCallTimeout = 30 * time.Second

// StdioTransport runs the server as a child process and frames JSON-RPC
// messages as newline-delimited JSON over its stdio.
type StdioTransport struct {
	name   string
	config ServerConfig
	logger *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	stderr  io.ReadCloser

	pending   map[int64]chan *JSONRPCResponse
	pendingMu sync.Mutex
	nextID    atomic.Int64

	connected atomic.Bool
	closeOnce sync.Once
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

var _ Transport = (*StdioTransport)(nil)

// NewStdioTransport creates a stdio transport for a named server.
func NewStdioTransport(name string, cfg ServerConfig) *StdioTransport {
	return &StdioTransport{
		name:     name,
		config:   cfg,
		logger:   slog.Default().With("mcp_server", name, "transport", "stdio"),
		pending:  make(map[int64]chan *JSONRPCResponse),
		stopChan: make(chan struct{}),
	}
}

// Connect starts the child process and the read loops. The context bounds
// the connect call only; the child's lifetime belongs to the transport and
// ends in Close or when the process itself exits.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.config.Command == "" {
		return fmt.Errorf("command is required for stdio transport")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	t.process = exec.Command(t.config.Command, t.config.Args...)
	t.process.Env = os.Environ()
	for k, v := range t.config.Env {
		t.process.Env = append(t.process.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var err error
	t.stdin, err = t.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := t.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 1024*1024), 1024*1024)

	t.stderr, _ = t.process.StderrPipe()

	if err := t.process.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	t.connected.Store(true)
	t.logger.Info("started tool server process",
		"command", t.config.Command,
		"pid", t.process.Process.Pid)

	t.wg.Add(1)
	go t.readLoop()

	if t.stderr != nil {
		t.wg.Add(1)
		go t.logStderr()
	}

	return nil
}

// Close stops the child process, waits for the read loops, and reaps the
// process. Teardown runs exactly once and does not key off the connected
// flag, so a transport whose pipe already broke still releases everything.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		close(t.stopChan)

		if t.stdin != nil {
			t.stdin.Close()
		}
		if t.process != nil && t.process.Process != nil {
			t.process.Process.Kill()
		}

		t.wg.Wait()
		if t.process != nil && t.process.Process != nil {
			t.process.Wait()
		}
	})
	return nil
}

// Call sends a request and waits for its response.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	id := t.nextID.Add(1)
	req := JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	respChan := make(chan *JSONRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	data, _ := json.Marshal(req)
	if err := t.write(data); err != nil {
		return nil, err
	}

	timeout := t.config.Timeout
	if timeout == 0 {
		timeout = defaultCallTimeout
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("request timeout after %v", timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed")
	}
}

// Notify sends a notification.
func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}

	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}

	data, _ := json.Marshal(notif)
	return t.write(data)
}

// Connected reports whether the transport is live.
func (t *StdioTransport) Connected() bool {
	return t.connected.Load()
}

// write frames one message. A broken pipe means the child exited; that is
// expected for short-lived servers, so it is logged at debug level and mapped
// to ErrPipeClosed instead of being escalated.
func (t *StdioTransport) write(data []byte) error {
	_, err := t.stdin.Write(append(data, '\n'))
	if err == nil {
		return nil
	}
	if isBrokenPipe(err) {
		t.connected.Store(false)
		t.logger.Debug("pipe to tool server closed", "error", err)
		return ErrPipeClosed
	}
	t.logger.Error("transport write failed", "error", err)
	return fmt.Errorf("write message: %w", err)
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}

// readLoop reads responses from stdout until the process exits.
func (t *StdioTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	for t.stdout.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}

		line := t.stdout.Text()
		if line == "" {
			continue
		}
		t.processLine(line)
	}

	if err := t.stdout.Err(); err != nil {
		if isBrokenPipe(err) {
			t.logger.Debug("stdout pipe closed", "error", err)
			return
		}
		t.logger.Error("stdout scanner error", "error", err)
	}
}

// processLine routes one JSON-RPC message to its pending caller.
func (t *StdioTransport) processLine(line string) {
	var resp JSONRPCResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil || resp.ID == nil {
		return
	}

	var id int64
	switch v := resp.ID.(type) {
	case float64:
		id = int64(v)
	case int64:
		id = v
	case int:
		id = int64(v)
	default:
		t.logger.Warn("unexpected response ID type", "id", resp.ID)
		return
	}

	t.pendingMu.Lock()
	if ch, ok := t.pending[id]; ok {
		select {
		case ch <- &resp:
		default:
		}
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()
}

// logStderr forwards child stderr into the log at debug level.
func (t *StdioTransport) logStderr() {
	defer t.wg.Done()

	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		if line := scanner.Text(); line != "" {
			t.logger.Debug("server stderr", "message", line)
		}
	}
}
