package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	BaseURL     string
	DataDir     string
	DBPath      string
	MonitorAddr string

	Provider string
	Model    string
	AgentID  string
}

func Load() Config {
	loadDotEnv(".env")
	dataDir := getEnv("VELDT_DATA_DIR", "data")
	return Config{
		BaseURL:     getEnv("VELDT_BASE_URL", "http://localhost:8080"),
		DataDir:     dataDir,
		DBPath:      getEnv("VELDT_DB_PATH", filepath.Join(dataDir, "veldt-chat.db")),
		MonitorAddr: getEnv("VELDT_MONITOR_ADDR", ""),

		Provider: getEnv("VELDT_PROVIDER", ""),
		Model:    getEnv("VELDT_MODEL", ""),
		AgentID:  getEnv("VELDT_AGENT_ID", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
