package config

var (
	// Version is the application version, set at build time via ldflags
	Version = "dev"
	// AppName is the application name used in command help and telemetry
	AppName = "rangeload"
)
