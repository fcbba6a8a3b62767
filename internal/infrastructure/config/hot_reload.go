package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/relaycore/relay/internal/domain/service"
)

// RegistryReloader is the subset of SubtypeRegistry/SkillRegistry this
// package needs, kept narrow so config stays independent of the service
// package's full surface.
type RegistryReloader interface {
	Replace(configs []service.SubtypeConfig)
}

// SkillRegistryReloader mirrors RegistryReloader for skills; kept as a
// separate interface since the two registries' Replace signatures differ
// only in element type, not because the config layer cares about the
// distinction.
type SkillRegistryReloader interface {
	Replace(configs []service.SkillConfig)
}

// HotReloader watches the config file for changes via fsnotify and pushes
// fresh subtype/skill definitions into the live registries, the way the
// teacher's ConfigWatcher hot-reloads AgentLoopConfig — except event-driven
// instead of polled, per the domain stack's fsnotify wiring.
type HotReloader struct {
	path     string
	subtypes RegistryReloader
	skills   SkillRegistryReloader
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
}

// NewHotReloader creates a reloader for the config file at path. Call
// Start to begin watching; Stop to release the fsnotify watcher.
func NewHotReloader(path string, subtypes RegistryReloader, skills SkillRegistryReloader, logger *zap.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	return &HotReloader{
		path:     path,
		subtypes: subtypes,
		skills:   skills,
		logger:   logger.With(zap.String("component", "config-hot-reload")),
		watcher:  watcher,
	}, nil
}

// Start applies the config once immediately, then blocks reacting to
// fsnotify write events on the config file until Stop is called. Run it
// in its own goroutine.
func (h *HotReloader) Start() {
	h.reload()

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(h.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				h.reload()
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Stop releases the underlying fsnotify watcher.
func (h *HotReloader) Stop() {
	h.watcher.Close()
}

func (h *HotReloader) reload() {
	cfg, err := Load()
	if err != nil {
		h.logger.Warn("config reload failed, keeping previous registries", zap.Error(err))
		return
	}

	h.subtypes.Replace(ToSubtypeConfigs(cfg.Agent.Subtypes))
	h.skills.Replace(ToSkillConfigs(cfg.Agent.Skills))
	h.logger.Info("subtype/skill registries reloaded",
		zap.Int("subtypes", len(cfg.Agent.Subtypes)),
		zap.Int("skills", len(cfg.Agent.Skills)),
	)
}

// ToSubtypeConfigs converts the YAML-mapped subtype list into the domain
// shape the SubtypeRegistry understands. Exported so callers building the
// registry at startup (app wiring) share the same conversion the hot
// reloader uses on every config change.
func ToSubtypeConfigs(in []SubtypeConfig) []service.SubtypeConfig {
	out := make([]service.SubtypeConfig, len(in))
	for i, s := range in {
		out[i] = service.SubtypeConfig{
			Name:            s.Name,
			ToolGroups:      s.ToolGroups,
			SkillTags:       s.SkillTags,
			Prompt:          s.Prompt,
			MaxIterations:   s.MaxIterations,
			SkipTaskPlanner: s.SkipTaskPlanner,
		}
	}
	return out
}

// ToSkillConfigs mirrors ToSubtypeConfigs for skills.
func ToSkillConfigs(in []SkillConfig) []service.SkillConfig {
	out := make([]service.SkillConfig, len(in))
	for i, s := range in {
		out[i] = service.SkillConfig{
			Name:          s.Name,
			Tags:          s.Tags,
			Instructions:  s.Instructions,
			RequiresTools: s.RequiresTools,
			AutoSubtype:   s.AutoSubtype,
		}
	}
	return out
}
