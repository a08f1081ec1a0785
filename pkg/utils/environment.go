package utils

import "os"

// GetValueFromEnvironmentVariable returns the variable value, or defaultValue when unset or empty.
func GetValueFromEnvironmentVariable(variableName, defaultValue string) string {
	value := os.Getenv(variableName)
	if value != "" {
		return value
	}
	return defaultValue
}
