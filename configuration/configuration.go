package configuration

type Configuration struct {
	HttpAddr          string `usage:"HTTP address"`
	Dir               string `usage:"data directory, one .tdb file per group"`
	EnableCompression bool   `usage:"compress responses with snappy or gzip"`
	Compression       bool   `usage:"compress new commit records with snappy"`
	NonBlocking       bool   `usage:"fail writes instead of waiting for another writer"`
	WatchExternal     bool   `usage:"reload groups written by other processes"`
	ApiKey            string `usage:"api key, empty disables key authentication"`
	ApiSecret         string `usage:"api secret"`
	JwtSecret         string `usage:"HS256 secret for bearer tokens, empty disables them"`
	LogLevel          string `usage:"log level: debug | info | warn | error"`
	LogJson           bool   `usage:"log in JSON format"`
	Version           bool   `usage:"show version and exit"`
	ShowBanner        bool   `usage:"show big banner"`
	ShowConfig        bool   `usage:"print config"`
}

func Default() Configuration {
	return Configuration{
		HttpAddr:          "127.0.0.1:8080",
		Dir:               "data",
		EnableCompression: true,
		Compression:       false,
		NonBlocking:       false,
		WatchExternal:     true,
		LogLevel:          "info",
		ShowBanner:        true,
		ShowConfig:        false,
	}
}

// AuthEnabled reports whether any authentication method is configured.
func (c Configuration) AuthEnabled() bool {
	return c.ApiKey != "" || c.JwtSecret != ""
}
