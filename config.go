package resq

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by LoadConfig for unset fields.
const (
	DefaultRedisHost  = "localhost"
	DefaultRedisPort  = 6379
	DefaultQueue      = "default"
	DefaultInterval   = 5 // seconds
	DefaultLogHandler = "text"
)

// SupervisorConfig is the validated configuration handed to the supervisor.
// Treat it as immutable once loaded: derive variants with WithProfile.
type SupervisorConfig struct {
	Redis  StoreConfig        `yaml:"redis" json:"redis"`
	Worker WorkerSettings     `yaml:"worker" json:"worker"`
	Log    LogConfig          `yaml:"log" json:"log"`
	Env    map[string]string  `yaml:"env" json:"env,omitempty"`
	Queues map[string]Profile `yaml:"queues" json:"queues,omitempty"`
}

// StoreConfig holds Redis connection settings.
type StoreConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	Database  int    `yaml:"database" json:"database"`
	Namespace string `yaml:"namespace" json:"namespace"`
	Password  string `yaml:"password" json:"password,omitempty"`
}

// Addr returns host:port.
func (s StoreConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Options converts the settings into RedisClient options.
func (s StoreConfig) Options() []RedisOption {
	opts := []RedisOption{WithRedisAddr(s.Addr()), WithRedisDB(s.Database)}
	if s.Namespace != "" {
		opts = append(opts, WithPrefix(s.Namespace))
	}
	if s.Password != "" {
		opts = append(opts, WithRedisPassword(s.Password))
	}
	return opts
}

// WorkerSettings describes the workers spawned by one start.
type WorkerSettings struct {
	Queue     string `yaml:"queue" json:"queue"`         // comma separated, "*" for all
	Interval  int    `yaml:"interval" json:"interval"`   // seconds
	Workers   int    `yaml:"workers" json:"workers"`     // processes to spawn
	User      string `yaml:"user" json:"user"`           // OS user running the workers
	Verbose   bool   `yaml:"verbose" json:"verbose"`     // debug level worker logs
	Bootstrap string `yaml:"bootstrap" json:"bootstrap"` // worker executable
	TmpDir    string `yaml:"tmpdir" json:"tmpdir"`       // handshake files
}

// LogConfig describes where worker output goes.
type LogConfig struct {
	Filename string `yaml:"filename" json:"filename"` // stdout/stderr of the worker process
	Handler  string `yaml:"handler" json:"handler"`   // text or json
	Target   string `yaml:"target" json:"target"`     // structured log file, empty = stderr
}

// Profile is a named worker pool started by the load command. Zero
// fields inherit the worker defaults.
type Profile struct {
	Queue    string `yaml:"queue" json:"queue"`
	Interval int    `yaml:"interval" json:"interval"`
	Workers  int    `yaml:"workers" json:"workers"`
	User     string `yaml:"user" json:"user"`
	Verbose  *bool  `yaml:"verbose" json:"verbose,omitempty"`
}

// LoadConfig parses YAML bytes, applies defaults and validates the result.
func LoadConfig(data []byte) (*SupervisorConfig, error) {
	cfg := &SupervisorConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, configErrorf("parsing config yaml: %v", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML file and returns a validated config.
func LoadConfigFile(path string) (*SupervisorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrorf("reading config file: %v", err)
	}
	return LoadConfig(data)
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() *SupervisorConfig {
	cfg := &SupervisorConfig{}
	cfg.applyDefaults()
	return cfg
}

func (c *SupervisorConfig) applyDefaults() {
	if c.Redis.Host == "" {
		c.Redis.Host = DefaultRedisHost
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = DefaultRedisPort
	}
	if c.Redis.Namespace == "" {
		c.Redis.Namespace = DefaultNamespace
	}
	c.Redis.Namespace = normalizePrefix(c.Redis.Namespace)
	if c.Worker.Queue == "" {
		c.Worker.Queue = DefaultQueue
	}
	if c.Worker.Interval == 0 {
		c.Worker.Interval = DefaultInterval
	}
	if c.Worker.Workers == 0 {
		c.Worker.Workers = 1
	}
	if c.Worker.User == "" {
		c.Worker.User = CurrentUser()
	}
	if c.Worker.TmpDir == "" {
		c.Worker.TmpDir = os.TempDir()
	}
	if c.Log.Handler == "" {
		c.Log.Handler = DefaultLogHandler
	}
	if c.Log.Filename == "" {
		c.Log.Filename = "resq.log"
	}
}

// Validate performs structural validation. It does not touch the network
// or the filesystem.
func (c *SupervisorConfig) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Redis.Host == "" {
		add("redis.host must not be empty")
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		add("redis.port must be between 1 and 65535; got %d", c.Redis.Port)
	}
	if c.Redis.Database < 0 {
		add("redis.database must be >= 0")
	}

	if err := validateQueueList(c.Worker.Queue); err != nil {
		add("worker.queue: %v", err)
	}
	if c.Worker.Interval <= 0 {
		add("worker.interval must be > 0")
	}
	if c.Worker.Workers <= 0 {
		add("worker.workers must be > 0")
	}

	switch strings.ToLower(c.Log.Handler) {
	case "text", "json":
	default:
		add("log.handler must be text or json; got %q", c.Log.Handler)
	}

	for _, name := range c.ProfileNames() {
		p := c.Queues[name]
		if p.Queue != "" {
			if err := validateQueueList(p.Queue); err != nil {
				add("queues.%s.queue: %v", name, err)
			}
		} else if err := validateQueueList(name); err != nil {
			add("queues.%s: %v", name, err)
		}
		if p.Interval < 0 {
			add("queues.%s.interval must be >= 0", name)
		}
		if p.Workers < 0 {
			add("queues.%s.workers must be >= 0", name)
		}
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

func validateQueueList(s string) error {
	queues := ParseQueues(s)
	if len(queues) == 0 {
		return fmt.Errorf("at least one queue is required")
	}
	for _, q := range queues {
		if q == AllQueues {
			if len(queues) > 1 {
				return fmt.Errorf("%q must be the only queue", AllQueues)
			}
			continue
		}
		if !ValidQueueName(q) {
			return fmt.Errorf("%q: %w", q, ErrInvalidQueueName)
		}
	}
	return nil
}

// ProfileNames returns the load profiles in a stable order.
func (c *SupervisorConfig) ProfileNames() []string {
	names := make([]string, 0, len(c.Queues))
	for name := range c.Queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy.
func (c SupervisorConfig) Clone() SupervisorConfig {
	out := c
	if c.Env != nil {
		out.Env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			out.Env[k] = v
		}
	}
	if c.Queues != nil {
		out.Queues = make(map[string]Profile, len(c.Queues))
		for k, v := range c.Queues {
			out.Queues[k] = v
		}
	}
	return out
}

// WithProfile returns a copy of c with the named profile merged onto the
// worker settings. The profile name is the default queue.
func (c SupervisorConfig) WithProfile(name string) (SupervisorConfig, error) {
	p, ok := c.Queues[name]
	if !ok {
		return SupervisorConfig{}, fmt.Errorf("resq: unknown queue profile %q", name)
	}
	out := c.Clone()
	out.Worker.Queue = name
	if p.Queue != "" {
		out.Worker.Queue = p.Queue
	}
	if p.Interval > 0 {
		out.Worker.Interval = p.Interval
	}
	if p.Workers > 0 {
		out.Worker.Workers = p.Workers
	}
	if p.User != "" {
		out.Worker.User = p.User
	}
	if p.Verbose != nil {
		out.Worker.Verbose = *p.Verbose
	}
	return out, nil
}

// WithWorkers returns a copy of c that spawns n processes.
func (c SupervisorConfig) WithWorkers(n int) SupervisorConfig {
	out := c.Clone()
	out.Worker.Workers = n
	return out
}

// FromEnv overlays RESQ_* environment variables onto cfg.
func FromEnv(cfg *SupervisorConfig, getenv func(string) string) {
	if v := getenv("RESQ_REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := getenv("RESQ_REDIS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = n
		}
	}
	if v := getenv("RESQ_REDIS_DATABASE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Database = n
		}
	}
	if v := getenv("RESQ_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := getenv("RESQ_NAMESPACE"); v != "" {
		cfg.Redis.Namespace = normalizePrefix(v)
	}
	if v := getenv("RESQ_QUEUE"); v != "" {
		cfg.Worker.Queue = v
	}
	if v := getenv("RESQ_USER"); v != "" {
		cfg.Worker.User = v
	}
	if v := getenv("RESQ_LOG"); v != "" {
		cfg.Log.Filename = v
	}
}

// CurrentUser returns the name of the user running this process.
func CurrentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
