package legacymenu

import "github.com/mtogo/foodorders/internal/config"

type Config struct {
	HTTPAddr       string
	DBPath         string
	SeedOnStart    bool
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string
}

func LoadConfig() (Config, error) {
	var env config.Env
	cfg := Config{
		HTTPAddr:       env.String("LEGACY_MENU_HTTP_ADDR", ":8080"),
		DBPath:         env.String("LEGACY_MENU_DB_PATH", "./data/legacymenu.db"),
		SeedOnStart:    env.Bool("LEGACY_MENU_SEED", true),
		AllowedOrigins: env.List("CORS_ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:       env.String("LOG_LEVEL", "info"),
		LogFormat:      env.String("LOG_FORMAT", "console"),
	}
	return cfg, env.Err()
}
