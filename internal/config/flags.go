package config

import "github.com/spf13/pflag"

// Flags holds command-line overrides. Only flags the user set are applied.
type Flags struct {
	fs            *pflag.FlagSet
	path          string
	dbPath        string
	dashboardAddr string
	model         string
	windowSize    int
	logLevel      string
	logFormat     string
	mock          bool
}

// BindFlags registers the override flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.StringVarP(&f.path, "config", "c", "", "Config file (default: $"+EnvConfig+")")
	fs.StringVarP(&f.dbPath, "db", "d", "", "Database path (default: $"+EnvDB+" or ~/.chat-relay/relay.db)")
	fs.StringVar(&f.dashboardAddr, "dashboard-addr", "", "Dashboard listen address, empty disables it")
	fs.StringVar(&f.model, "model", "", "Chat completion model")
	fs.IntVar(&f.windowSize, "window", 0, "History messages included per request")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: json or text")
	fs.BoolVar(&f.mock, "mock-llm", false, "Answer with a local echo model instead of the API")
	return f
}

// Path is the config file given with --config.
func (f *Flags) Path() string { return f.path }

// Apply copies every flag the user set onto c.
func (f *Flags) Apply(c *Config) {
	if f.fs.Changed("db") {
		c.Store.Path = f.dbPath
	}
	if f.fs.Changed("dashboard-addr") {
		c.Dashboard.Addr = f.dashboardAddr
	}
	if f.fs.Changed("model") {
		c.OpenAI.Model = f.model
	}
	if f.fs.Changed("window") {
		c.Pipeline.WindowSize = f.windowSize
	}
	if f.fs.Changed("log-level") {
		c.Log.Level = f.logLevel
	}
	if f.fs.Changed("log-format") {
		c.Log.Format = f.logFormat
	}
	if f.fs.Changed("mock-llm") {
		c.OpenAI.Mock = f.mock
	}
}

// Resolve loads the config named by the flags and applies the flags.
func (f *Flags) Resolve() (*Config, error) {
	c, err := Load(f.path)
	if err != nil {
		return nil, err
	}
	f.Apply(c)
	return c, nil
}
