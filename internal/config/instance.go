package config

import "github.com/google/uuid"

func generateInstanceID() string {
	return uuid.New().String()
}
