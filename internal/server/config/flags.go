package config

import (
	"flag"
	"os"
	"time"

	"github.com/arkadyv/blinddb/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line
// flags.
//
// Supported flags (short forms):
//
//	-a string   protocol bind address (e.g., ":7654")
//	-l string   gRPC health bind address
//	-d string   PostgreSQL DSN for the identity directory
//	-t int      handshake timeout, seconds
//	-n          snapshot tables to object storage on shutdown
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-l", "-d", "-t", "-n", "-u", "-p", "-b", "-g", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.EndpointAddrHealth, "l", config.EndpointAddrHealth, "address and port of the health endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "identity database DSN")

	authTimeout := fs.Int("t", int(config.AuthTimeout.Seconds()), "handshake timeout (in seconds)")
	fs.BoolVar(&config.SnapshotOnShutdown, "n", config.SnapshotOnShutdown, "snapshot tables on shutdown")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AuthTimeout = time.Duration(*authTimeout) * time.Second
}
