package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dmw2/shufflr/internal/expr"
	"github.com/dmw2/shufflr/internal/templates"
)

const inlineSourceName = "inline-config"

// ScheduleBundle captures the merged schedule definitions after loading every
// configured source. The scheduler uses the metadata to explain what was
// loaded and why certain definitions were skipped.
type ScheduleBundle struct {
	Schedules map[string]ScheduleConfig
	Sources   []string
	Skipped   []ScheduleSkip
}

type scheduleDocument struct {
	Schedules map[string]ScheduleConfig `koanf:"schedules"`
}

type scheduleAggregator struct {
	schedules map[string]ScheduleConfig
	sourcesBy map[string]string
	skips     map[string]*ScheduleSkip
	sources   map[string]struct{}
}

func newScheduleAggregator() *scheduleAggregator {
	return &scheduleAggregator{
		schedules: make(map[string]ScheduleConfig),
		sourcesBy: make(map[string]string),
		skips:     make(map[string]*ScheduleSkip),
		sources:   make(map[string]struct{}),
	}
}

func (a *scheduleAggregator) addDocument(doc scheduleDocument, source string) {
	if source != "" {
		a.sources[source] = struct{}{}
	}
	for name, cfg := range doc.Schedules {
		a.add(name, cfg, source)
	}
}

func (a *scheduleAggregator) add(name string, cfg ScheduleConfig, source string) {
	if existing, ok := a.skips[name]; ok {
		existing.Sources = appendUnique(existing.Sources, source)
		return
	}
	if prev, ok := a.sourcesBy[name]; ok {
		a.recordSkip(name, "duplicate definition", prev, source)
		delete(a.sourcesBy, name)
		delete(a.schedules, name)
		return
	}
	a.sourcesBy[name] = source
	a.schedules[name] = cfg
}

func (a *scheduleAggregator) recordSkip(name, reason string, sources ...string) {
	if skip, ok := a.skips[name]; ok {
		if skip.Reason == "" {
			skip.Reason = reason
		}
		for _, src := range sources {
			skip.Sources = appendUnique(skip.Sources, src)
		}
		return
	}
	skip := &ScheduleSkip{Name: name, Reason: reason, Sources: []string{}}
	for _, src := range sources {
		skip.Sources = appendUnique(skip.Sources, src)
	}
	a.skips[name] = skip
}

// validate quarantines schedules the runtime could not execute: missing
// targets, unparseable intervals, guards that do not compile, rename
// templates that do not parse.
func (a *scheduleAggregator) validate(env *expr.Environment) {
	for name, cfg := range a.schedules {
		if err := validateSchedule(cfg, env); err != nil {
			source := a.sourcesBy[name]
			a.recordSkip(name, err.Error(), source)
			delete(a.sourcesBy, name)
			delete(a.schedules, name)
		}
	}
}

func validateSchedule(cfg ScheduleConfig, env *expr.Environment) error {
	if strings.TrimSpace(cfg.Playlist) == "" {
		return fmt.Errorf("target playlist required")
	}
	if _, err := cfg.Interval(); err != nil {
		return err
	}
	if guard := strings.TrimSpace(cfg.Guard); guard != "" {
		if _, err := env.Compile(guard); err != nil {
			return fmt.Errorf("invalid guard: %w", err)
		}
	}
	if rename := strings.TrimSpace(cfg.Rename); rename != "" {
		if err := templates.Validate(rename); err != nil {
			return fmt.Errorf("invalid rename template: %w", err)
		}
	}
	return nil
}

func (a *scheduleAggregator) bundle() ScheduleBundle {
	schedules := make(map[string]ScheduleConfig, len(a.schedules))
	for name, cfg := range a.schedules {
		schedules[name] = cfg
	}
	skipped := make([]ScheduleSkip, 0, len(a.skips))
	for _, skip := range a.skips {
		sort.Strings(skip.Sources)
		skipped = append(skipped, *skip)
	}
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Name < skipped[j].Name })
	sources := make([]string, 0, len(a.sources))
	for src := range a.sources {
		if src != "" {
			sources = append(sources, src)
		}
	}
	sort.Strings(sources)
	return ScheduleBundle{Schedules: schedules, Sources: sources, Skipped: skipped}
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	if !slices.Contains(list, value) {
		list = append(list, value)
	}
	return list
}

func buildScheduleBundle(ctx context.Context, inline map[string]ScheduleConfig, schedulesCfg SchedulesConfig) (ScheduleBundle, error) {
	agg := newScheduleAggregator()
	if len(inline) > 0 {
		agg.addDocument(scheduleDocument{Schedules: inline}, inlineSourceName)
	}

	files, err := collectScheduleSources(ctx, schedulesCfg)
	if err != nil {
		return ScheduleBundle{}, err
	}
	for _, path := range files {
		select {
		case <-ctx.Done():
			return ScheduleBundle{}, ctx.Err()
		default:
		}
		doc, err := loadScheduleDocument(path)
		if err != nil {
			return ScheduleBundle{}, err
		}
		agg.addDocument(doc, path)
	}

	env, err := expr.NewEnvironment()
	if err != nil {
		return ScheduleBundle{}, err
	}
	agg.validate(env)
	return agg.bundle(), nil
}

func collectScheduleSources(ctx context.Context, schedulesCfg SchedulesConfig) ([]string, error) {
	if schedulesCfg.Folder == "" {
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	stat, err := os.Stat(schedulesCfg.Folder)
	if err != nil {
		return nil, fmt.Errorf("config: schedules folder %s: %w", schedulesCfg.Folder, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("config: schedules folder %s is not a directory", schedulesCfg.Folder)
	}
	var files []string
	err = filepath.WalkDir(schedulesCfg.Folder, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !isSupportedScheduleFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("config: walk schedules folder %s: %w", schedulesCfg.Folder, err)
	}
	sort.Strings(files)
	return files, nil
}

func loadScheduleDocument(path string) (scheduleDocument, error) {
	parser, err := parserFor(path)
	if err != nil {
		return scheduleDocument{}, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return scheduleDocument{}, fmt.Errorf("config: load schedules %s: %w", path, err)
	}
	var doc scheduleDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return scheduleDocument{}, fmt.Errorf("config: unmarshal schedules %s: %w", path, err)
	}
	return doc, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported schedules file %s", path)
	}
}

func isSupportedScheduleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json", ".toml":
		return true
	default:
		return false
	}
}
