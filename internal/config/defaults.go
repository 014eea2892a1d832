package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"provider": "deepseek",
		"deepseek": map[string]interface{}{
			"api_key":  "",
			"base_url": "https://api.deepseek.com",
			"timeout":  60,
		},
		"ollama": map[string]interface{}{
			"base_url": "http://localhost:11434",
			"timeout":  120,
		},
		"model": map[string]interface{}{
			"name":        "deepseek-chat",
			"max_tokens":  1024,
			"temperature": 0.1, // intent extraction wants stable output
		},
		"store": map[string]interface{}{
			"path": "~/.remindme/reminders.db",
		},
		"assistant": map[string]interface{}{
			"default_timezone":          "UTC",
			"default_channel":           "chat",
			"conflict_duration_minutes": 30,
			"dedup_cache_size":          1024,
		},
		"whatsapp": map[string]interface{}{
			"phone_number_id": "",
			"access_token":    "",
			"api_version":     "v21.0",
			"base_url":        "https://graph.facebook.com",
			"timeout":         15,
			"verify_token":    "",
			"app_secret":      "",
			"webhook_addr":    ":8080",
		},
		"scheduler": map[string]interface{}{
			"enabled":        true,
			"interval":       30,
			"max_concurrent": 4,
			"batch_limit":    100,
		},
		"metrics": map[string]interface{}{
			"enabled": false,
			"addr":    ":9090",
		},
		"log": map[string]interface{}{
			"level":  "info",
			"format": "text",
		},
		"ui": map[string]interface{}{
			"colored_output": true,
		},
	}
}

func NewDefaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}

func GetDefaultConfigPath() string {
	return "~/.remindme/config.yaml"
}
