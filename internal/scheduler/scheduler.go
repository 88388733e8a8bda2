package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/google/shlex"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"ledstrip-controller/internal/core"
	"ledstrip-controller/internal/protocol"
)

// ScheduleEntry defines the structure for a saved schedule.
type ScheduleEntry struct {
	Spec    string `json:"spec"`
	Command string `json:"command"`
}

// Scheduler manages all cron-related tasks.
type Scheduler struct {
	cron           *cron.Cron
	store          map[cron.EntryID]ScheduleEntry
	commandChannel core.CommandChannel
	mu             sync.RWMutex
	schedulesFile  string
}

// NewScheduler creates and loads a scheduler.
func NewScheduler(cmdChan core.CommandChannel, schedulesFile string) *Scheduler {
	s := &Scheduler{
		cron:           cron.New(),
		store:          make(map[cron.EntryID]ScheduleEntry),
		commandChannel: cmdChan,
		schedulesFile:  schedulesFile,
	}
	s.load()
	return s
}

// Start begins the cron job ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Str("component", "scheduler").Msg("Cron scheduler started")
}

// Stop halts the cron job ticker.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Str("component", "scheduler").Msg("Cron scheduler stopped")
}

// Add creates a new cron job. The command is parsed up front so a typo is
// reported now rather than at the first firing.
func (s *Scheduler) Add(spec, command string) (cron.EntryID, error) {
	if _, err := ParseCommand(command); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() { s.execute(command) })
	if err != nil {
		return 0, fmt.Errorf("schedule %q: %w", spec, err)
	}
	s.store[id] = ScheduleEntry{Spec: spec, Command: command}
	s.save()
	log.Info().Str("component", "scheduler").Int("id", int(id)).Str("spec", spec).Str("command", command).Msg("Added schedule")
	return id, nil
}

// Remove deletes a cron job.
func (s *Scheduler) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID := cron.EntryID(id)
	s.cron.Remove(entryID)
	delete(s.store, entryID)
	s.save()
	log.Info().Str("component", "scheduler").Int("id", id).Msg("Removed schedule")
}

// GetAll returns a copy of the current schedules in a thread-safe way.
func (s *Scheduler) GetAll() map[cron.EntryID]ScheduleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	newMap := make(map[cron.EntryID]ScheduleEntry)
	for k, v := range s.store {
		newMap[k] = v
	}
	return newMap
}

// ParseCommand turns a schedule line into one or more commands. Lines are
// split shell-style, so pattern names may be quoted:
//
//	clear
//	show
//	fill R G B
//	led INDEX R G B
//	pattern NAME.lua
//	stop
//
// fill and led latch the frame, so they produce a trailing show.
func ParseCommand(line string) ([]core.Command, error) {
	parts, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("command %q: %w", line, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	show := core.NewCommand(core.CmdShow, "scheduler")
	args := parts[1:]

	switch parts[0] {
	case "clear":
		return []core.Command{core.NewCommand(core.CmdClear, "scheduler"), show}, nil
	case "show":
		return []core.Command{show}, nil
	case "stop":
		return []core.Command{core.NewCommand(core.CmdStopPattern, "scheduler")}, nil
	case "pattern":
		if len(args) != 1 {
			return nil, fmt.Errorf("pattern: want 1 argument, got %d", len(args))
		}
		return []core.Command{core.NewCommand(core.CmdRunPattern, "scheduler").With("name", args[0])}, nil
	case "fill":
		rgb, err := numbers(args, 3, 255)
		if err != nil {
			return nil, fmt.Errorf("fill: %w", err)
		}
		cmd := core.NewCommand(core.CmdFill, "scheduler").With("r", rgb[0]).With("g", rgb[1]).With("b", rgb[2])
		return []core.Command{cmd, show}, nil
	case "led":
		if len(args) != 4 {
			return nil, fmt.Errorf("led: want 4 arguments, got %d", len(args))
		}
		index, err := numbers(args[:1], 1, protocol.MaxMessageSize)
		if err != nil {
			return nil, fmt.Errorf("led: %w", err)
		}
		rgb, err := numbers(args[1:], 3, 255)
		if err != nil {
			return nil, fmt.Errorf("led: %w", err)
		}
		cmd := core.NewCommand(core.CmdSetLed, "scheduler").
			With("index", index[0]).With("r", rgb[0]).With("g", rgb[1]).With("b", rgb[2])
		return []core.Command{cmd, show}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", parts[0])
	}
}

func numbers(args []string, want, max int) ([]int, error) {
	if len(args) != want {
		return nil, fmt.Errorf("want %d numbers, got %d", want, len(args))
	}
	out := make([]int, want)
	for i, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", a)
		}
		if n < 0 || n > max {
			return nil, fmt.Errorf("%d out of range 0-%d", n, max)
		}
		out[i] = n
	}
	return out, nil
}

func (s *Scheduler) execute(command string) {
	logger := log.With().Str("component", "scheduler").Str("command", command).Logger()
	logger.Info().Msg("Executing scheduled command")

	cmds, err := ParseCommand(command)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid scheduled command")
		return
	}
	for _, cmd := range cmds {
		s.commandChannel <- cmd
	}
}

func (s *Scheduler) save() {
	logger := log.With().Str("component", "scheduler").Logger()
	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		logger.Error().Err(err).Msg("Error marshalling schedules")
		return
	}
	if err := os.WriteFile(s.schedulesFile, data, 0644); err != nil {
		logger.Error().Err(err).Str("file", s.schedulesFile).Msg("Error writing schedule file")
	}
}

func (s *Scheduler) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := log.With().Str("component", "scheduler").Str("file", s.schedulesFile).Logger()

	if _, err := os.Stat(s.schedulesFile); os.IsNotExist(err) {
		return
	}
	data, err := os.ReadFile(s.schedulesFile)
	if err != nil {
		logger.Error().Err(err).Msg("Error reading schedule file")
		return
	}

	tempStore := make(map[cron.EntryID]ScheduleEntry)
	if err := json.Unmarshal(data, &tempStore); err != nil {
		logger.Error().Err(err).Msg("Error unmarshalling schedule file")
		return
	}

	logger.Info().Int("count", len(tempStore)).Msg("Loading schedules")
	for _, entry := range tempStore {
		jobEntry := entry
		newID, err := s.cron.AddFunc(jobEntry.Spec, func() { s.execute(jobEntry.Command) })
		if err != nil {
			logger.Error().Err(err).Str("spec", jobEntry.Spec).Msg("Error re-adding schedule from file")
			continue
		}
		s.store[newID] = jobEntry
	}
}
