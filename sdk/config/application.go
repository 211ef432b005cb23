package config

// Application holds process-level settings.
type Application struct {
	Mode          string `mapstructure:"mode" json:"mode"` // dev, test, prod
	Host          string `mapstructure:"host" json:"host"`
	Name          string `mapstructure:"name" json:"name"`
	Port          int    `mapstructure:"port" json:"port"`
	ReadTimeout   int    `mapstructure:"readtimeout" json:"readtimeout"`
	WriterTimeout int    `mapstructure:"writertimeout" json:"writetimeout"`
}

// IsDev reports whether the process runs in development mode. Development
// mode enables the fallback domain retry and verbose diagnostics.
func (a *Application) IsDev() bool {
	return a.Mode == "dev"
}

var ApplicationConfig = new(Application)
