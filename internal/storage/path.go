package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const tenantRoot = "tenants"

// ParquetContentType is used for uploaded tenant data files.
const ParquetContentType = "application/vnd.apache.parquet"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// TablePrefix is the key prefix under which a tenant table's files live.
func TablePrefix(tenantID, tableName string) (string, error) {
	if err := validatePathComponent(tenantID, "tenant id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(tableName, "table name"); err != nil {
		return "", err
	}
	return path.Join(tenantRoot, tenantID, tableName) + "/", nil
}

// BuildDataFilePath places fileName under the tenant table prefix.
func BuildDataFilePath(tenantID, tableName, fileName string) (string, error) {
	prefix, err := TablePrefix(tenantID, tableName)
	if err != nil {
		return "", err
	}
	if err := validatePathComponent(fileName, "file name"); err != nil {
		return "", err
	}
	if !strings.HasSuffix(strings.ToLower(fileName), ".parquet") {
		return "", fmt.Errorf("file name %q must have a .parquet extension", fileName)
	}
	return prefix + fileName, nil
}

// OwnedBy reports whether key lives under tenantID's data prefix.
func OwnedBy(tenantID, key string) bool {
	if validatePathComponent(tenantID, "tenant id") != nil {
		return false
	}
	cleaned := path.Clean(strings.TrimPrefix(strings.TrimSpace(key), "/"))
	return strings.HasPrefix(cleaned, path.Join(tenantRoot, tenantID)+"/")
}

// TenantOf returns the tenant segment of a key under the tenant root.
func TenantOf(key string) (string, bool) {
	cleaned := path.Clean(strings.TrimPrefix(strings.TrimSpace(key), "/"))
	rest, ok := strings.CutPrefix(cleaned, tenantRoot+"/")
	if !ok {
		return "", false
	}
	tenantID, _, found := strings.Cut(rest, "/")
	if !found || validatePathComponent(tenantID, "tenant id") != nil {
		return "", false
	}
	return tenantID, true
}

// ContentTypeFor picks the upload content type for key.
func ContentTypeFor(key string) string {
	if IsParquet(key) {
		return ParquetContentType
	}
	return "application/octet-stream"
}

// IsParquet reports whether key names a parquet object.
func IsParquet(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".parquet")
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
