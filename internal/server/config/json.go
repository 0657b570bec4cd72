package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/arkadyv/blinddb/internal/flagx"
	"github.com/arkadyv/blinddb/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON
// configuration files. It uses timex.Duration for interval fields, which
// allows parsing both string values such as "30s" and integer nanoseconds.
// After unmarshalling, its fields are copied into the runtime Config.
type JsonConfig struct {
	EndpointAddr       string         `json:"endpoint_addr"`
	EndpointAddrHealth string         `json:"endpoint_addr_health"`
	DatabaseDSN        string         `json:"database_dsn"`
	AuthTimeout        timex.Duration `json:"auth_timeout"`
	SnapshotOnShutdown bool           `json:"snapshot_on_shutdown"`
	S3RootUser         string         `json:"s3_root_user"`
	S3RootPassword     string         `json:"s3_root_password"`
	S3Bucket           string         `json:"s3_bucket"`
	S3Region           string         `json:"s3_region"`
	S3BaseEndpoint     string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from the JSON file named by the
// -c/-config flags into the provided Config. If no flag is given, nothing
// is loaded. An unreadable or invalid file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.EndpointAddrHealth = c.EndpointAddrHealth
	config.DatabaseDSN = c.DatabaseDSN
	config.AuthTimeout = time.Duration(c.AuthTimeout.Duration)
	config.SnapshotOnShutdown = c.SnapshotOnShutdown
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
