package config

type Logger struct {
	Path        string // log file directory
	Level       string // zap level name
	Stdout      bool   // also log to the console
	MaxSize     int    // max size per log file in MB
	ErrorMaxAge int    // days to keep error log files
	InfoMaxAge  int    // days to keep info log files
	MaxBackups  int    // number of rotated files to keep
}

var LoggerConfig = new(Logger)
