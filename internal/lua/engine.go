// Package lua runs pattern scripts that draw on the LED strip.
//
// A script stages pixels with set_led, fill and clear, and pushes them to
// the controller with show. Only one script runs at a time.
package lua

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"ledstrip-controller/internal/core"
)

// cmdType defines the type of engine command.
type cmdType int

const (
	cmdRunFile cmdType = iota
	cmdRunString
	cmdStop
)

// engineCmd represents a command sent to the Lua engine.
type engineCmd struct {
	kind cmdType
	name string
	code string
}

// Engine manages the Lua scripting environment using a single worker goroutine
// to ensure only one pattern runs at a time.
type Engine struct {
	commands    core.CommandChannel
	ledCount    int
	patternsDir string
	eventBus    *core.EventBus

	cmdChan chan engineCmd

	mu      sync.Mutex
	running string
}

// NewEngine creates a new Lua engine and starts its background worker.
// Scripts reach the controller only through commands.
func NewEngine(commands core.CommandChannel, ledCount int, patternsDir string, eb *core.EventBus) *Engine {
	e := &Engine{
		commands:    commands,
		ledCount:    ledCount,
		patternsDir: patternsDir,
		eventBus:    eb,
		cmdChan:     make(chan engineCmd, 10),
	}

	go e.runLoop()

	return e
}

// runLoop is the main worker loop that processes engine commands sequentially.
func (e *Engine) runLoop() {
	var currentCancel context.CancelFunc
	var scriptDone chan struct{}

	for cmd := range e.cmdChan {
		if currentCancel != nil {
			currentCancel()
			select {
			case <-scriptDone:
			case <-time.After(2 * time.Second):
				log.Warn().Str("component", "lua").Msg("Timeout waiting for script to stop")
			}
			currentCancel = nil
			scriptDone = nil
		}

		if cmd.kind == cmdStop {
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		currentCancel = cancel
		scriptDone = make(chan struct{})

		go func(cmd engineCmd, ctx context.Context, done chan struct{}) {
			defer close(done)
			switch cmd.kind {
			case cmdRunFile:
				e.execute(ctx, cmd.name, func(L *lua.LState) error { return L.DoFile(cmd.code) })
			case cmdRunString:
				e.execute(ctx, cmd.name, func(L *lua.LState) error { return L.DoString(cmd.code) })
			}
		}(cmd, ctx, scriptDone)
	}
}

// StopCurrentPattern stops the currently running script if any.
func (e *Engine) StopCurrentPattern() {
	select {
	case e.cmdChan <- engineCmd{kind: cmdStop}:
	default:
		log.Warn().Str("component", "lua").Msg("Command channel full, could not send stop command")
	}
}

// RunPattern queues a pattern file for execution, stopping the current one.
func (e *Engine) RunPattern(name string) error {
	scriptPath, err := e.GetPatternPath(name)
	if err != nil {
		return fmt.Errorf("pattern %q: %w", name, err)
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return fmt.Errorf("pattern %q: %w", name, err)
	}

	e.cmdChan <- engineCmd{kind: cmdRunFile, name: name, code: scriptPath}
	return nil
}

// ExecuteString queues a one-off Lua chunk.
func (e *Engine) ExecuteString(code string) {
	e.cmdChan <- engineCmd{kind: cmdRunString, name: "single line command", code: code}
}

// Running returns the name of the running script, "" when idle.
func (e *Engine) Running() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Close stops the worker. The engine cannot be used afterwards.
func (e *Engine) Close() {
	e.StopCurrentPattern()
	close(e.cmdChan)
}

// sanitizeFilename checks for directory traversal and ensures a valid .lua extension.
func sanitizeFilename(name string) (string, error) {
	if !strings.HasSuffix(name, ".lua") {
		return "", fmt.Errorf("filename must end with .lua")
	}
	cleanName := filepath.Base(name)
	if cleanName == "" || cleanName == ".lua" || strings.Contains(cleanName, "..") {
		return "", fmt.Errorf("invalid filename")
	}
	return cleanName, nil
}

// GetPatternPath returns the safe path to a pattern file within the patterns directory.
func (e *Engine) GetPatternPath(name string) (string, error) {
	cleanName, err := sanitizeFilename(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(e.patternsDir); os.IsNotExist(err) {
		log.Info().Str("component", "lua").Str("dir", e.patternsDir).Msg("Creating patterns directory")
		if err := os.MkdirAll(e.patternsDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create patterns directory: %w", err)
		}
	}
	return filepath.Join(e.patternsDir, cleanName), nil
}

// GetPatternCode reads and returns the source code of a pattern file.
func (e *Engine) GetPatternCode(name string) (string, error) {
	path, err := e.GetPatternPath(name)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// SavePatternCode writes the provided Lua source code to a pattern file.
func (e *Engine) SavePatternCode(name, code string) error {
	path, err := e.GetPatternPath(name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(code), 0644)
}

// DeletePattern removes a pattern file by name.
func (e *Engine) DeletePattern(name string) error {
	path, err := e.GetPatternPath(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// GetPatternList scans the patterns directory and returns the available .lua files.
func (e *Engine) GetPatternList() ([]string, error) {
	var patterns []string
	files, err := os.ReadDir(e.patternsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return patterns, nil
		}
		return nil, err
	}
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == ".lua" {
			patterns = append(patterns, file.Name())
		}
	}
	return patterns, nil
}

func (e *Engine) setRunning(name string) {
	e.mu.Lock()
	e.running = name
	e.mu.Unlock()

	if e.eventBus != nil {
		e.eventBus.Publish(core.Event{Type: core.PatternChangedEvent, Payload: name})
	}
}

// execute runs Lua code in a fresh state bound to ctx.
func (e *Engine) execute(ctx context.Context, name string, executor func(*lua.LState) error) {
	logger := log.With().Str("component", "lua").Str("pattern", name).Logger()
	logger.Info().Msg("Starting pattern")
	e.setRunning(name)

	defer func() {
		logger.Info().Msg("Pattern finished")
		e.setRunning("")
	}()

	L := lua.NewState()
	defer L.Close()
	L.SetContext(ctx)

	s := newScript(ctx, e.commands, e.ledCount)
	s.register(L)

	if err := executor(L); err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("Pattern execution was canceled")
		} else {
			logger.Error().Err(err).Msg("Error executing pattern")
		}
	}
}
