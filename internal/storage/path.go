package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// ModelArtifactPath is the object key for one published semantic model
// version, e.g. models/sales/v3.yaml.
func ModelArtifactPath(modelName string, version int) (string, error) {
	if err := validatePathComponent(modelName, "model name"); err != nil {
		return "", err
	}
	if version <= 0 {
		return "", fmt.Errorf("version must be > 0")
	}
	return path.Join("models", modelName, fmt.Sprintf("v%d.yaml", version)), nil
}

// TableDataPrefix is the key prefix under which a logical table's parquet
// files live.
func TableDataPrefix(modelName, tableName string) (string, error) {
	if err := validatePathComponent(modelName, "model name"); err != nil {
		return "", err
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return path.Join("data", modelName, tableName) + "/", nil
}

// TableDataFilePath is the object key for one parquet part file of a table.
func TableDataFilePath(modelName, tableName string, sequence int) (string, error) {
	prefix, err := TableDataPrefix(modelName, tableName)
	if err != nil {
		return "", err
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}
	return prefix + fmt.Sprintf("part-%05d.parquet", sequence), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
