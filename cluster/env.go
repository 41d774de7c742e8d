// Package cluster runs raftlog nodes as child processes for integration tests.
//
// Every node gets a local TCP port the first time it is referenced. The node is started with
// its URI, tcp://localhost:<port>, as the first argument, followed by the command's own
// arguments, so a binary only needs to listen on its first argument to join the harness.
package cluster

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// NodeCommand is the program run for a node.
type NodeCommand struct {
	Name string
	Args []string
	Env  []string
}

// NewNodeCommand returns a NodeCommand running name.
func NewNodeCommand(name string) NodeCommand {
	return NodeCommand{Name: name}
}

// WithArgs returns a copy of c that passes args after the node URI.
func (c NodeCommand) WithArgs(args ...string) NodeCommand {
	c.Args = append([]string(nil), args...)
	return c
}

// WithEnv returns a copy of c that adds the KEY=value pairs in env to the inherited environment.
func (c NodeCommand) WithEnv(env ...string) NodeCommand {
	c.Env = append(append([]string(nil), c.Env...), env...)
	return c
}

// Environment tracks the ports and processes of a set of nodes.
type Environment struct {
	mu    sync.Mutex
	ports map[uint64]int
	nodes map[uint64]*exec.Cmd

	output io.Writer
	logger *zap.Logger
}

// EnvironmentOption configures an Environment.
type EnvironmentOption interface{ Transform(*Environment) }

/******** WithOutput **********************************************************/
type withOutput struct {
	w io.Writer
}

func (o *withOutput) Transform(e *Environment) {
	e.output = o.w
}

// WithOutput sends the stdout and stderr of every node to w. By default it is discarded.
func WithOutput(w io.Writer) EnvironmentOption {
	return &withOutput{w: w}
}

/******** WithLogger **********************************************************/
type withLogger struct {
	logger *zap.Logger
}

func (o *withLogger) Transform(e *Environment) {
	e.logger = o.logger
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) EnvironmentOption {
	return &withLogger{logger: logger}
}

// NewEnvironment creates an empty Environment.
func NewEnvironment(opts ...EnvironmentOption) *Environment {
	e := &Environment{
		ports: map[uint64]int{},
		nodes: map[uint64]*exec.Cmd{},
	}
	for _, opt := range opts {
		opt.Transform(e)
	}
	return e
}

// AvailablePort asks the kernel for a free local TCP port.
func AvailablePort() (int, error) {
	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port, nil
}

// Port returns the port of node id, allocating one on first use. A node keeps its port across
// restarts.
func (e *Environment) Port(id uint64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port(id)
}

func (e *Environment) port(id uint64) (int, error) {
	if port, ok := e.ports[id]; ok {
		return port, nil
	}
	port, err := AvailablePort()
	if err != nil {
		return 0, fmt.Errorf("cluster: allocate port for node %d: %w", id, err)
	}
	e.ports[id] = port
	return port, nil
}

// NodeID returns the URI of node id.
func (e *Environment) NodeID(id uint64) (string, error) {
	port, err := e.Port(id)
	if err != nil {
		return "", err
	}
	return uri(port), nil
}

func uri(port int) string {
	return fmt.Sprintf("tcp://localhost:%d", port)
}

// Start runs cmd as node id. A node that is already running is stopped first.
func (e *Environment) Start(id uint64, cmd NodeCommand) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.stop(id); err != nil {
		return err
	}
	port, err := e.port(id)
	if err != nil {
		return err
	}
	c := exec.Command(cmd.Name, append([]string{uri(port)}, cmd.Args...)...)
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	c.Stdout = e.output
	c.Stderr = e.output
	if err := c.Start(); err != nil {
		return fmt.Errorf("cluster: start node %d: %w", id, err)
	}
	e.nodes[id] = c
	if e.l() {
		e.logger.Info("started node",
			zap.Uint64("id", id), zap.String("uri", uri(port)), zap.Int("pid", c.Process.Pid))
	}
	return nil
}

// Stop kills node id and waits for it to exit. Stopping a node that is not running is a no-op.
func (e *Environment) Stop(id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stop(id)
}

func (e *Environment) stop(id uint64) error {
	c, ok := e.nodes[id]
	if !ok {
		return nil
	}
	delete(e.nodes, id)
	if err := c.Process.Kill(); err != nil {
		return fmt.Errorf("cluster: kill node %d: %w", id, err)
	}
	// The exit status of a killed process is an error by definition.
	_ = c.Wait()
	if e.l() {
		e.logger.Info("stopped node", zap.Uint64("id", id))
	}
	return nil
}

// Pause suspends node id without closing its sockets.
func (e *Environment) Pause(id uint64) error {
	return e.signal(id, pause)
}

// Unpause resumes a paused node.
func (e *Environment) Unpause(id uint64) error {
	return e.signal(id, unpause)
}

func (e *Environment) signal(id uint64, f func(*os.Process) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("cluster: node %d is not running", id)
	}
	return f(c.Process)
}

// Running returns the ids of the running nodes, sorted.
func (e *Environment) Running() []uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]uint64, 0, len(e.nodes))
	for id := range e.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close stops every running node.
func (e *Environment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs error
	for id := range e.nodes {
		if err := e.stop(id); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

func (e *Environment) l() bool {
	return e.logger != nil
}
