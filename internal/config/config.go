// Package config loads runtime configuration for the Mission Workflow
// Execution Core: ExecutionGuard caps, scheduler tuning, and session
// policy, layered defaults < file < env < override via viper.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Runtime captures every NOVA_* knob named in the environment variable
// table.
type Runtime struct {
	MissionMaxDuration             time.Duration
	ExecutionMaxInflightPerUser    int
	ExecutionMaxInflightGlobal     int
	ExecutionSlotTTL               time.Duration

	SchedulerMaxInFlightGlobal        int
	SchedulerMaxInFlightPerUser       int
	SchedulerMaxInFlightPerConversation int
	SchedulerMaxQueueSize             int
	SchedulerMaxQueueSizePerUser      int
	SchedulerQueueStale               time.Duration
	SchedulerSupersedeQueuedByKey     bool
	SchedulerStrictIsolation          bool

	SessionIdleMinutes              int
	SessionMaxTranscriptLines       int
	SessionTranscriptRetentionDays  int
}

// Metadata records where each field's effective value came from.
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Source returns the origin for the given field name.
func (m Metadata) Source(field string) ValueSource {
	if m.sources == nil {
		return SourceDefault
	}
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// LoadedAt returns when this Runtime was constructed.
func (m Metadata) LoadedAt() time.Time { return m.loadedAt }

// Overrides conveys caller-specified values that win over file/env.
type Overrides struct {
	MissionMaxDuration           *time.Duration
	ExecutionMaxInflightPerUser  *int
	ExecutionMaxInflightGlobal   *int
	ExecutionSlotTTL             *time.Duration
	SchedulerStrictIsolation     *bool
	SessionIdleMinutes           *int
}

// Option customizes Load's behavior.
type Option func(*loadOptions)

type loadOptions struct {
	configPath string
	overrides  Overrides
}

// WithConfigPath points the loader at a specific config file instead of
// the default search paths (./nova.yaml, $HOME/.nova/nova.yaml).
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithOverrides applies caller overrides, highest precedence.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) { o.overrides = overrides }
}

const envPrefix = "NOVA"

// Load merges defaults, an optional config file, NOVA_* environment
// variables, and caller overrides, in that precedence order.
func Load(opts ...Option) (Runtime, Metadata, error) {
	options := loadOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if options.configPath != "" {
		v.SetConfigFile(options.configPath)
	} else {
		v.SetConfigName("nova")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.nova")
	}

	fileSeen := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Runtime{}, Metadata{}, err
		}
		fileSeen = false
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	for _, key := range allKeys {
		meta.sources[key] = classifySource(v, key, fileSeen)
	}

	rt := Runtime{
		MissionMaxDuration:                  time.Duration(v.GetInt64("mission.max_duration_ms")) * time.Millisecond,
		ExecutionMaxInflightPerUser:         v.GetInt("mission.execution_max_inflight_per_user"),
		ExecutionMaxInflightGlobal:          v.GetInt("mission.execution_max_inflight_global"),
		ExecutionSlotTTL:                    time.Duration(v.GetInt64("mission.execution_slot_ttl_ms")) * time.Millisecond,
		SchedulerMaxInFlightGlobal:          v.GetInt("scheduler.max_inflight_global"),
		SchedulerMaxInFlightPerUser:         v.GetInt("scheduler.max_inflight_per_user"),
		SchedulerMaxInFlightPerConversation: v.GetInt("scheduler.max_inflight_per_conversation"),
		SchedulerMaxQueueSize:               v.GetInt("scheduler.max_queue_size"),
		SchedulerMaxQueueSizePerUser:        v.GetInt("scheduler.max_queue_size_per_user"),
		SchedulerQueueStale:                 time.Duration(v.GetInt64("scheduler.queue_stale_ms")) * time.Millisecond,
		SchedulerSupersedeQueuedByKey:       v.GetBool("scheduler.supersede_queued_by_key"),
		SchedulerStrictIsolation:            v.GetBool("scheduler.strict_isolation"),
		SessionIdleMinutes:                  v.GetInt("session.idle_minutes"),
		SessionMaxTranscriptLines:           v.GetInt("session.max_transcript_lines"),
		SessionTranscriptRetentionDays:      v.GetInt("session.transcript_retention_days"),
	}

	applyOverrides(&rt, &meta, options.overrides)

	return rt, meta, nil
}

var allKeys = []string{
	"mission.max_duration_ms",
	"mission.execution_max_inflight_per_user",
	"mission.execution_max_inflight_global",
	"mission.execution_slot_ttl_ms",
	"scheduler.max_inflight_global",
	"scheduler.max_inflight_per_user",
	"scheduler.max_inflight_per_conversation",
	"scheduler.max_queue_size",
	"scheduler.max_queue_size_per_user",
	"scheduler.queue_stale_ms",
	"scheduler.supersede_queued_by_key",
	"scheduler.strict_isolation",
	"session.idle_minutes",
	"session.max_transcript_lines",
	"session.transcript_retention_days",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mission.max_duration_ms", 300000)
	v.SetDefault("mission.execution_max_inflight_per_user", 3)
	v.SetDefault("mission.execution_max_inflight_global", 200)
	v.SetDefault("mission.execution_slot_ttl_ms", 900000)
	v.SetDefault("scheduler.max_inflight_global", 32)
	v.SetDefault("scheduler.max_inflight_per_user", 4)
	v.SetDefault("scheduler.max_inflight_per_conversation", 2)
	v.SetDefault("scheduler.max_queue_size", 500)
	v.SetDefault("scheduler.max_queue_size_per_user", 50)
	v.SetDefault("scheduler.queue_stale_ms", 60000)
	v.SetDefault("scheduler.supersede_queued_by_key", true)
	v.SetDefault("scheduler.strict_isolation", false)
	v.SetDefault("session.idle_minutes", 30)
	v.SetDefault("session.max_transcript_lines", 500)
	v.SetDefault("session.transcript_retention_days", 30)
}

// classifySource reports whether key's effective value came from the env,
// the config file, or the default — viper itself doesn't track this, so
// we re-derive it the same way the layered loader does: check the
// highest-precedence source that actually set the key.
func classifySource(v *viper.Viper, key string, fileSeen bool) ValueSource {
	envKey := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if _, ok := os.LookupEnv(envKey); ok {
		return SourceEnv
	}
	if fileSeen && v.InConfig(key) {
		return SourceFile
	}
	return SourceDefault
}

func applyOverrides(rt *Runtime, meta *Metadata, o Overrides) {
	if o.MissionMaxDuration != nil {
		rt.MissionMaxDuration = *o.MissionMaxDuration
		meta.sources["mission.max_duration_ms"] = SourceOverride
	}
	if o.ExecutionMaxInflightPerUser != nil {
		rt.ExecutionMaxInflightPerUser = *o.ExecutionMaxInflightPerUser
		meta.sources["mission.execution_max_inflight_per_user"] = SourceOverride
	}
	if o.ExecutionMaxInflightGlobal != nil {
		rt.ExecutionMaxInflightGlobal = *o.ExecutionMaxInflightGlobal
		meta.sources["mission.execution_max_inflight_global"] = SourceOverride
	}
	if o.ExecutionSlotTTL != nil {
		rt.ExecutionSlotTTL = *o.ExecutionSlotTTL
		meta.sources["mission.execution_slot_ttl_ms"] = SourceOverride
	}
	if o.SchedulerStrictIsolation != nil {
		rt.SchedulerStrictIsolation = *o.SchedulerStrictIsolation
		meta.sources["scheduler.strict_isolation"] = SourceOverride
	}
	if o.SessionIdleMinutes != nil {
		rt.SessionIdleMinutes = *o.SessionIdleMinutes
		meta.sources["session.idle_minutes"] = SourceOverride
	}
}
