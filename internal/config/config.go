package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/powerdash/internal/errors"
	"codeberg.org/mutker/powerdash/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix  = "POWERDASH"
	configName = "powerdash"

	DefaultMode            = ModeStream
	DefaultLogLevel        = "info"
	DefaultBackend         = BackendExec
	DefaultFastInterval    = time.Second
	DefaultSlowInterval    = 5 * time.Second
	DefaultSampleTimeout   = 2 * time.Second
	DefaultHistorySize     = 600
	DefaultTopN            = 8
	DefaultWakeupThreshold = 100.0
	DefaultShiftThreshold  = 10.0
	DefaultSensorCommand   = "kim_temp json-fast"
	DefaultStreamCommand   = "kim_temp stream"
	DefaultListen          = "127.0.0.1:9477"
	DefaultRecordDB        = "powerdash.db"
	DefaultRedisKey        = "powerdash"

	// A live stream record older than this many fast periods is stale
	// unless stream_max_age says otherwise.
	streamStalePeriods = 3
)

type Config struct {
	Mode            Mode
	LogLevel        string
	FastInterval    time.Duration
	SlowInterval    time.Duration
	SampleTimeout   time.Duration
	HistorySize     int
	TopN            int
	WakeupThreshold float64
	ShiftThreshold  float64
	Backend         BackendKind
	SensorCommand   []string
	HostCommand     []string
	StreamCommand   []string
	StreamFile      string
	StreamMaxAge    time.Duration
	PrivilegePrefix []string
	LabelsFile      string
	Listen          string
	Record          bool
	RecordDB        string
	RedisAddr       string
	RedisKey        string
	PIDDir          string
}

// Load builds the configuration from, in increasing precedence: defaults,
// a TOML file, a .env file and POWERDASH_* environment, then args. A
// leading positional argument selects the mode.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}
	if err := bindFlags(v, fs); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		v.Set("mode", fs.Arg(0))
	}

	cfg := &Config{
		Mode:            Mode(strings.ToLower(v.GetString("mode"))),
		LogLevel:        v.GetString("log_level"),
		FastInterval:    v.GetDuration("fast_interval"),
		SlowInterval:    v.GetDuration("slow_interval"),
		SampleTimeout:   v.GetDuration("sample_timeout"),
		HistorySize:     v.GetInt("history_size"),
		TopN:            v.GetInt("top_n"),
		WakeupThreshold: v.GetFloat64("wakeup_threshold"),
		ShiftThreshold:  v.GetFloat64("shift_threshold"),
		Backend:         BackendKind(strings.ToLower(v.GetString("backend"))),
		SensorCommand:   strings.Fields(v.GetString("sensor_command")),
		HostCommand:     strings.Fields(v.GetString("host_command")),
		StreamCommand:   strings.Fields(v.GetString("stream_command")),
		StreamFile:      v.GetString("stream_file"),
		StreamMaxAge:    v.GetDuration("stream_max_age"),
		PrivilegePrefix: strings.Fields(v.GetString("powermetrics_prefix")),
		LabelsFile:      v.GetString("labels_file"),
		Listen:          v.GetString("listen"),
		Record:          v.GetBool("record"),
		RecordDB:        v.GetString("record_db"),
		RedisAddr:       v.GetString("redis_addr"),
		RedisKey:        v.GetString("redis_key"),
		PIDDir:          v.GetString("pid_dir"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(DefaultMode))
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("fast_interval", DefaultFastInterval)
	v.SetDefault("slow_interval", DefaultSlowInterval)
	v.SetDefault("sample_timeout", DefaultSampleTimeout)
	v.SetDefault("history_size", DefaultHistorySize)
	v.SetDefault("top_n", DefaultTopN)
	v.SetDefault("wakeup_threshold", DefaultWakeupThreshold)
	v.SetDefault("shift_threshold", DefaultShiftThreshold)
	v.SetDefault("backend", string(DefaultBackend))
	v.SetDefault("sensor_command", DefaultSensorCommand)
	v.SetDefault("host_command", "")
	v.SetDefault("stream_command", DefaultStreamCommand)
	v.SetDefault("stream_file", "")
	v.SetDefault("stream_max_age", time.Duration(0))
	v.SetDefault("powermetrics_prefix", "")
	v.SetDefault("labels_file", "")
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("record", false)
	v.SetDefault("record_db", DefaultRecordDB)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_key", DefaultRedisKey)
	v.SetDefault("pid_dir", os.TempDir())
}

// readConfigFile reads POWERDASH_CONFIG when set, otherwise the first
// powerdash.toml found in the XDG config directory or /etc. A missing file
// is not an error.
func readConfigFile(v *viper.Viper) error {
	errFactory := errors.New()

	if path := os.Getenv(envPrefix + "_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.SetConfigType("toml")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, configName))
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		v.AddConfigPath(filepath.Join(xdg, configName))
	}
	v.AddConfigPath("/etc")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.SetInterspersed(true)

	fs.StringP("mode", "m", string(DefaultMode), "Output mode: snapshot, stream, dashboard or serve")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning or error")
	fs.Duration("fast-interval", DefaultFastInterval, "Power and thermal rail sampling period")
	fs.Duration("slow-interval", DefaultSlowInterval, "Process, battery and memory sampling period")
	fs.Duration("sample-timeout", DefaultSampleTimeout, "Maximum duration of one backend call")
	fs.Int("history-size", DefaultHistorySize, "Number of power samples kept for the windowed average")
	fs.Int("top-n", DefaultTopN, "Number of processes ranked by CPU rate")
	fs.Float64("wakeup-threshold", DefaultWakeupThreshold, "Wakeups per second above which a process is an anomaly")
	fs.Float64("shift-threshold", DefaultShiftThreshold, "Percent change in smoothed power reported as a power shift")
	fs.StringP("backend", "b", string(DefaultBackend), "Telemetry backend: exec or stream")
	fs.String("sensor-command", DefaultSensorCommand, "Command printing one JSON rail record")
	fs.String("host-command", "", "Command printing one JSON host record instead of the built-in collectors")
	fs.String("powermetrics-prefix", "", "Prefix for powermetrics, which needs root for the process table, e.g. \"sudo -n\"")
	fs.String("stream-command", DefaultStreamCommand, "Command printing one JSON record per line")
	fs.String("stream-file", "", "Recorded line-delimited JSON stream to replay, - for stdin")
	fs.Duration("stream-max-age", 0, "Age after which a live stream record is stale (default 3x fast-interval)")
	fs.String("labels-file", "", "YAML file with process label overrides")
	fs.StringP("listen", "l", DefaultListen, "Address for serve mode")
	fs.Bool("record", false, "Record every state to SQLite")
	fs.String("record-db", DefaultRecordDB, "SQLite database path for --record")
	fs.String("redis-addr", "", "Publish every state to this Redis server")
	fs.String("redis-key", DefaultRedisKey, "Redis key prefix")
	fs.String("pid-dir", os.TempDir(), "Directory for the PID file")

	return fs
}

// bindFlags maps each hyphenated flag onto its underscored config key.
// Only flags set on the command line override other sources.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error

	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = errors.New().Wrap(errors.ErrBindFlags, err)
		}
	})

	return bindErr
}

// Validate checks values that would make the engine misbehave.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !c.Mode.IsValid() {
		return errFactory.WithData(errors.ErrInvalidMode, c.Mode)
	}
	if !c.Backend.IsValid() {
		return errFactory.WithData(errors.ErrInvalidConfig, "backend: "+string(c.Backend))
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch {
	case c.FastInterval <= 0:
		return errFactory.WithData(errors.ErrInvalidInterval, "fast_interval: "+c.FastInterval.String())
	case c.SlowInterval < c.FastInterval:
		return errFactory.WithData(errors.ErrInvalidInterval, "slow_interval shorter than fast_interval")
	case c.SampleTimeout <= 0:
		return errFactory.WithData(errors.ErrInvalidInterval, "sample_timeout: "+c.SampleTimeout.String())
	case c.StreamMaxAge < 0:
		return errFactory.WithData(errors.ErrInvalidInterval, "stream_max_age: "+c.StreamMaxAge.String())
	}

	switch {
	case c.HistorySize <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "history_size must be positive")
	case c.TopN <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "top_n must be positive")
	case c.WakeupThreshold <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "wakeup_threshold must be positive")
	case c.ShiftThreshold <= 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "shift_threshold must be positive")
	case c.Backend == BackendExec && len(c.SensorCommand) == 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "sensor_command is empty")
	case c.Backend == BackendStream && c.StreamFile == "" && len(c.StreamCommand) == 0:
		return errFactory.WithData(errors.ErrInvalidConfig, "stream backend needs stream_file or stream_command")
	case c.Mode == ModeServe && c.Listen == "":
		return errFactory.WithData(errors.ErrInvalidConfig, "listen is empty")
	case c.Record && c.RecordDB == "":
		return errFactory.WithData(errors.ErrInvalidConfig, "record_db is empty")
	}

	return nil
}

// StreamStaleAfter returns the age past which the latest record of a live
// stream no longer counts as a sample.
func (c *Config) StreamStaleAfter() time.Duration {
	if c.StreamMaxAge > 0 {
		return c.StreamMaxAge
	}

	return streamStalePeriods * c.FastInterval
}

// Usage returns the flag help text.
func Usage() string {
	return newFlagSet().FlagUsages()
}
