package config

// Config is the console boot configuration.
type Config struct {
	// Hostname seeds the HOST env var.
	Hostname string `yaml:"hostname"`

	// Init is the program (plus args) booted as the root session task.
	Init []string `yaml:"init"`

	// Path seeds PATH on the persistent environment when unset.
	Path string `yaml:"path"`

	// Extensions is the executable-probe list, in order.
	Extensions []string `yaml:"extensions"`

	// EnvFile is the host path of the persistent env store.
	EnvFile string `yaml:"env_file"`

	// Root, when set, maps the personality's "/" onto this host
	// directory; empty boots on an in-memory disk.
	Root string `yaml:"root"`

	// LogFile receives kernel diagnostics; empty silences them.
	LogFile string `yaml:"log_file"`

	// ScrollbackBytes bounds the per-session output capture.
	ScrollbackBytes int `yaml:"scrollback_bytes"`
}
