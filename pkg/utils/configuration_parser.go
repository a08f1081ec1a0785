package utils

import (
	"os"
	"path/filepath"

	"github.com/janael-pinheiro/suncloud-sdk-golang/pkg/entities"
	"gopkg.in/yaml.v2"
)

type config interface {
	entities.SunCloudConfig | entities.Cache
}

func readTextFile(filepathName string) ([]byte, error) {
	fileContent, err := os.ReadFile(filepath.Clean(filepathName))
	return fileContent, err
}

// ConfigurationParser decodes the YAML document at filepathName over configEntity.
func ConfigurationParser[T config](filepathName string, configEntity T) (T, error) {
	fileContent, err := readTextFile(filepath.Clean(filepathName))
	if err != nil {
		return configEntity, err
	}

	err = yaml.Unmarshal(fileContent, &configEntity)
	return configEntity, err
}
