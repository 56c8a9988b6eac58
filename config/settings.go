package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/guileen/pgloadgen/logger"
)

// Modes for the query source.
const (
	ModePooled = "pooled"
	ModeDirect = "direct"
)

// DBParams are the connection parameters shared by every pool generation.
type DBParams struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// ConnString renders the parameters as a postgres URL understood by pgx.
func (p DBParams) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Name,
	}
	return u.String()
}

// Address is host:port, safe to log.
func (p DBParams) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Settings is the process configuration, read once at startup.
type Settings struct {
	DB              DBParams
	Initial         Config
	Mode            string
	ClientName      string
	ProbeQuery      string
	APIPort         int
	MetricsPort     int
	AcquireTimeout  time.Duration
	QueryTimeout    time.Duration
	DrainTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Applied to every pgxpool generation; zero keeps the pgx default.
	PoolHealthCheckPeriod time.Duration
	PoolMaxConnLifetime   time.Duration
	PoolMaxConnIdleTime   time.Duration

	LogLevel slog.Level
}

var defaults = map[string]any{
	"db-host":          "localhost",
	"db-port":          5432,
	"db-user":          "postgres",
	"db-password":      "postgres",
	"db-name":          "postgres",
	"tps":              10,
	"pool-min-size":    40,
	"pool-max-size":    40,
	"api-port":         8080,
	"metrics-port":     8000,
	"client-name":      "pooled",
	"mode":             ModePooled,
	"probe-query":      "SELECT 1",
	"acquire-timeout":  5 * time.Second,
	"query-timeout":    5 * time.Second,
	"drain-timeout":    5 * time.Second,
	"shutdown-timeout": 10 * time.Second,

	"pool-health-check-period": time.Minute,
	"pool-max-conn-lifetime":   time.Hour,
	"pool-max-conn-idle-time":  30 * time.Minute,

	"log-level": "info",
}

// RegisterFlags declares one flag per setting. Every flag can also be set through the
// environment by upper-casing its name and replacing '-' with '_' (DB_HOST, TPS, ...).
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("db-host", defaults["db-host"].(string), "database host")
	fs.Int("db-port", defaults["db-port"].(int), "database port")
	fs.String("db-user", defaults["db-user"].(string), "database user")
	fs.String("db-password", defaults["db-password"].(string), "database password")
	fs.String("db-name", defaults["db-name"].(string), "database name")
	fs.Int("tps", defaults["tps"].(int), "initial target rate in queries per second")
	fs.Int("pool-min-size", defaults["pool-min-size"].(int), "initial pool minimum size")
	fs.Int("pool-max-size", defaults["pool-max-size"].(int), "initial pool maximum size")
	fs.Int("api-port", defaults["api-port"].(int), "control plane listen port")
	fs.Int("metrics-port", defaults["metrics-port"].(int), "prometheus metrics listen port")
	fs.String("client-name", defaults["client-name"].(string), "identity label attached to all metrics")
	fs.String("mode", defaults["mode"].(string), "query source: pooled or direct")
	fs.String("probe-query", defaults["probe-query"].(string), "read-only statement issued every iteration")
	fs.Duration("acquire-timeout", defaults["acquire-timeout"].(time.Duration), "maximum wait for a pooled connection")
	fs.Duration("query-timeout", defaults["query-timeout"].(time.Duration), "maximum duration of one probe")
	fs.Duration("drain-timeout", defaults["drain-timeout"].(time.Duration), "maximum wait for checked-out connections when disposing a pool")
	fs.Duration("shutdown-timeout", defaults["shutdown-timeout"].(time.Duration), "maximum duration of graceful shutdown")
	fs.Duration("pool-health-check-period", defaults["pool-health-check-period"].(time.Duration), "interval between pool health checks of idle connections")
	fs.Duration("pool-max-conn-lifetime", defaults["pool-max-conn-lifetime"].(time.Duration), "age after which a pooled connection is closed")
	fs.Duration("pool-max-conn-idle-time", defaults["pool-max-conn-idle-time"].(time.Duration), "idle time after which a pooled connection is closed")
	fs.String("log-level", defaults["log-level"].(string), "log level: trace, debug, info, warn or error")
}

// NewViper returns a viper instance bound to the environment and, when fs is not nil, to fs.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}
	return v, nil
}

// LoadSettings reads and validates Settings from v.
func LoadSettings(v *viper.Viper) (Settings, error) {
	s := Settings{
		DB: DBParams{
			Host:     v.GetString("db-host"),
			Port:     v.GetInt("db-port"),
			User:     v.GetString("db-user"),
			Password: v.GetString("db-password"),
			Name:     v.GetString("db-name"),
		},
		Initial: Config{
			TargetRate:  v.GetInt("tps"),
			PoolMinSize: v.GetInt("pool-min-size"),
			PoolMaxSize: v.GetInt("pool-max-size"),
		},
		Mode:            strings.ToLower(v.GetString("mode")),
		ClientName:      v.GetString("client-name"),
		ProbeQuery:      v.GetString("probe-query"),
		APIPort:         v.GetInt("api-port"),
		MetricsPort:     v.GetInt("metrics-port"),
		AcquireTimeout:  v.GetDuration("acquire-timeout"),
		QueryTimeout:    v.GetDuration("query-timeout"),
		DrainTimeout:    v.GetDuration("drain-timeout"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),

		PoolHealthCheckPeriod: v.GetDuration("pool-health-check-period"),
		PoolMaxConnLifetime:   v.GetDuration("pool-max-conn-lifetime"),
		PoolMaxConnIdleTime:   v.GetDuration("pool-max-conn-idle-time"),
	}
	level, ok := logger.ParseLevel(v.GetString("log-level"))
	if !ok {
		return s, fmt.Errorf("log-level %q is not a known level", v.GetString("log-level"))
	}
	s.LogLevel = level
	return s, s.Validate()
}

// Validate rejects settings the process cannot start with. Rate and pool bounds are
// not checked here; the Store clamps them.
func (s Settings) Validate() error {
	if s.DB.Host == "" {
		return fmt.Errorf("db-host must not be empty")
	}
	for name, port := range map[string]int{"db-port": s.DB.Port, "api-port": s.APIPort, "metrics-port": s.MetricsPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s %d out of range", name, port)
		}
	}
	if s.APIPort == s.MetricsPort {
		return fmt.Errorf("api-port and metrics-port must differ, both are %d", s.APIPort)
	}
	if s.Mode != ModePooled && s.Mode != ModeDirect {
		return fmt.Errorf("mode %q must be %q or %q", s.Mode, ModePooled, ModeDirect)
	}
	if s.ClientName == "" {
		return fmt.Errorf("client-name must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"acquire-timeout":  s.AcquireTimeout,
		"query-timeout":    s.QueryTimeout,
		"shutdown-timeout": s.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	// Zero is meaningful here: no drain, or the pgx default.
	for name, d := range map[string]time.Duration{
		"drain-timeout":            s.DrainTimeout,
		"pool-health-check-period": s.PoolHealthCheckPeriod,
		"pool-max-conn-lifetime":   s.PoolMaxConnLifetime,
		"pool-max-conn-idle-time":  s.PoolMaxConnIdleTime,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	return nil
}
