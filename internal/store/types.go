package store

import "fmt"

type DbType string

const (
	DbTypePostgres DbType = "postgres"
	DbTypeSQLite   DbType = "sqlite"
	DbTypeMemory   DbType = "memory"
)

func (t DbType) String() string {
	return string(t)
}

func (t DbType) IsValid() bool {
	switch t {
	case DbTypePostgres, DbTypeSQLite, DbTypeMemory:
		return true
	}
	return false
}

// Config is the JSON document in STORE_CONFIG, e.g.
// {"db_type":"postgres","extra_details":{"conn_str":"...","auto_migrate":true}}
type Config struct {
	DbType       DbType                 `json:"db_type"`
	ExtraDetails map[string]interface{} `json:"extra_details"`
}

func (c Config) connString() (string, error) {
	connStr, ok := c.ExtraDetails["conn_str"].(string)
	if !ok || connStr == "" {
		return "", fmt.Errorf("conn_str is required for %s store", c.DbType)
	}
	return connStr, nil
}

func (c Config) autoMigrate() bool {
	v, _ := c.ExtraDetails["auto_migrate"].(bool)
	return v
}
