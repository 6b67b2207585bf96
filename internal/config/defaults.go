package config

func applyDefaults(cfg Config) Config {
	if cfg.Hostname == "" {
		cfg.Hostname = "minisys"
	}
	if len(cfg.Init) == 0 {
		cfg.Init = []string{"init"}
	}
	if cfg.Path == "" {
		cfg.Path = "/bin:/usr/bin"
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{"", ".bin"}
	}
	if cfg.EnvFile == "" {
		cfg.EnvFile = "minisys.env"
	}
	if cfg.ScrollbackBytes <= 0 {
		cfg.ScrollbackBytes = 64 * 1024
	}
	return cfg
}
