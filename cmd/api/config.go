package main

import (
	"context"
	"log"
	"os"

	"github.com/go-yaml/yaml"
	"github.com/sethvargo/go-envconfig"

	"github.com/totegamma/postbox/core"
	"github.com/totegamma/postbox/x/storage"
)

type Config struct {
	Server  Server           `yaml:"server"`
	Postbox core.ConfigInput `yaml:"postbox"`
	Storage Storage          `yaml:"storage"`
}

type Server struct {
	ListenAddr    string `yaml:"listenAddr" env:"POSTBOX_LISTEN_ADDR,overwrite"`
	Dsn           string `yaml:"dsn" env:"POSTBOX_DSN,overwrite"`
	RedisAddr     string `yaml:"redisAddr" env:"POSTBOX_REDIS_ADDR,overwrite"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr" env:"POSTBOX_MEMCACHED_ADDR,overwrite"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint" env:"POSTBOX_TRACE_ENDPOINT,overwrite"`
}

// Storage selects where attachment contents are kept.
// driver is "local" (default) or "s3"
type Storage struct {
	Driver    string           `yaml:"driver" env:"POSTBOX_STORAGE_DRIVER,overwrite"`
	LocalRoot string           `yaml:"localRoot" env:"POSTBOX_STORAGE_ROOT,overwrite"`
	S3        storage.S3Config `yaml:"s3"`
}

// Load loads config from given path, then applies environment overrides
func (c *Config) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		log.Fatal("failed to open configuration file:", err)
		return err
	}
	defer f.Close()

	err = yaml.NewDecoder(f).Decode(&c)
	if err != nil {
		log.Fatal("failed to load configuration file:", err)
		return err
	}

	err = envconfig.Process(context.Background(), c)
	if err != nil {
		log.Fatal("failed to apply environment:", err)
		return err
	}

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8000"
	}
	if c.Storage.LocalRoot == "" {
		c.Storage.LocalRoot = "/var/lib/postbox/attachments"
	}

	return nil
}

func setupBlobStore(ctx context.Context, conf Storage) (core.BlobStore, error) {
	switch conf.Driver {
	case "s3":
		return storage.NewS3Store(ctx, conf.S3)
	default:
		return storage.NewLocalStore(conf.LocalRoot)
	}
}
