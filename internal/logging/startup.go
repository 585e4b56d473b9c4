package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ResourceKind groups external resources in the startup summary. The value
// is the JSON key the group is logged under.
type ResourceKind string

const (
	S3Bucket    ResourceKind = "s3Buckets"
	DynamoTable ResourceKind = "dynamoTables"
	SSMParam    ResourceKind = "ssmParams"
	EventBus    ResourceKind = "eventBuses"
	MQTTBroker  ResourceKind = "mqttBrokers"
)

// Startup is the summary a process logs once it is ready: who it is, what
// it talks to and which optional parts are switched on.
type Startup struct {
	name    string
	commit  string
	built   string
	elapsed time.Duration

	resources map[ResourceKind]map[string]string
	features  map[string]bool
	settings  map[string]string
}

// NewStartup starts a summary for the named process. elapsed is the time
// initialization took; zero leaves it out.
func NewStartup(name string, elapsed time.Duration) *Startup {
	return &Startup{
		name:      name,
		elapsed:   elapsed,
		resources: make(map[ResourceKind]map[string]string),
		features:  make(map[string]bool),
		settings:  make(map[string]string),
	}
}

// Build records the commit and build time stamped in by the linker.
func (s *Startup) Build(commit, built string) *Startup {
	s.commit, s.built = commit, built
	return s
}

// Resource records an external resource under label. Unnamed resources are
// skipped. SSM entries are parameter paths, never values.
func (s *Startup) Resource(kind ResourceKind, label, name string) *Startup {
	if name == "" {
		return s
	}
	if s.resources[kind] == nil {
		s.resources[kind] = make(map[string]string)
	}
	s.resources[kind][label] = name
	return s
}

// Feature records whether an optional part is enabled.
func (s *Startup) Feature(name string, on bool) *Startup {
	s.features[name] = on
	return s
}

// Setting records a non-sensitive setting. Empty values are skipped.
func (s *Startup) Setting(key, value string) *Startup {
	if value != "" {
		s.settings[key] = value
	}
	return s
}

// Log writes the summary as one INFO event on the global logger.
func (s *Startup) Log() {
	evt := log.Info().Dict("process", s.process())

	if len(s.resources) > 0 {
		groups := zerolog.Dict()
		for kind, byLabel := range s.resources {
			groups = groups.Dict(string(kind), strDict(byLabel))
		}
		evt = evt.Dict("resources", groups)
	}
	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, on := range s.features {
			d = d.Bool(k, on)
		}
		evt = evt.Dict("features", d)
	}
	if len(s.settings) > 0 {
		evt = evt.Dict("config", strDict(s.settings))
	}
	if s.elapsed > 0 {
		evt = evt.Dur("initDuration", s.elapsed)
	}
	evt.Msg("Startup complete")
}

func (s *Startup) process() *zerolog.Event {
	d := zerolog.Dict().
		Str("name", s.name).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", zerolog.GlobalLevel().String())
	if host, err := os.Hostname(); err == nil {
		d = d.Str("host", host)
	}
	// Set only inside Lambda.
	if fn := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); fn != "" {
		d = d.Str("functionName", fn).
			Str("version", os.Getenv("AWS_LAMBDA_FUNCTION_VERSION")).
			Str("region", os.Getenv("AWS_REGION"))
	}
	if s.commit != "" {
		d = d.Str("commitHash", s.commit)
	}
	if s.built != "" {
		d = d.Str("buildTime", s.built)
	}
	return d
}

func strDict(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}

// EnvOrDefault returns the named environment variable, or def when it is
// empty or unset.
func EnvOrDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}
