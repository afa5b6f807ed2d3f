package config

import (
	"github.com/opengovern/og-util/pkg/koanf"
)

type Redis struct {
	Address  string `yaml:"address" koanf:"address"`
	Password string `yaml:"password" koanf:"password"`
	DB       int    `yaml:"db" koanf:"db"`
}

type Vespa struct {
	BaseURL        string `yaml:"base_url" koanf:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" koanf:"timeout_seconds"`
}

type Config struct {
	Postgres      koanf.Postgres      `yaml:"postgres" koanf:"postgres"`
	ElasticSearch koanf.ElasticSearch `yaml:"elasticsearch" koanf:"elasticsearch"`
	Http          koanf.HttpServer    `yaml:"http" koanf:"http"`
	Redis         Redis               `yaml:"redis" koanf:"redis"`
	Vespa         Vespa               `yaml:"vespa" koanf:"vespa"`
}
