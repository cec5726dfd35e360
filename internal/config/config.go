package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	DataDir        string
	DBPath         string
	LogPath        string
	UserTaskDir    string
	ProjectTaskDir string
	RemoteBaseURL  string
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("CASEBOARD_DATA_DIR", filepath.Join(homeDir, ".caseboard"))

	c := &Config{
		DataDir:        dataDir,
		DBPath:         filepath.Join(dataDir, "caseboard.db"),
		LogPath:        filepath.Join(dataDir, "caseboard.log"),
		UserTaskDir:    filepath.Join(dataDir, "tasks"),
		ProjectTaskDir: ".caseboard/tasks",
		RemoteBaseURL:  getEnv("CASEBOARD_REMOTE_URL", "http://localhost:8484"),
	}

	return c, nil
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.UserTaskDir, 0755); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
