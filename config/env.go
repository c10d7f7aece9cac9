package config

import (
	"log"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

var dotEnvOnce sync.Once

// loadDotEnv loads ./.env (or the file named by ENV_FILE) once per process.
// Variables already present in the environment win.
func loadDotEnv() {
	dotEnvOnce.Do(func() {
		path := os.Getenv("ENV_FILE")
		if path == "" {
			path = ".env"
		}
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			log.Printf("Warning: failed to load %s: %v", path, err)
		}
	})
}

func getenvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
