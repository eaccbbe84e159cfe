package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store engines
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
	StoreBolt     = "bolt"
)

type (
	Config struct {
		AppName          string `mapstructure:"appName"`
		Env              string `mapstructure:"env"`
		Build            string `mapstructure:"build"`
		Debug            bool   `mapstructure:"debug"`
		TestMode         bool   `mapstructure:"testMode"`
		WorkDir          string `mapstructure:"workDir"`
		RollbarToken     string `mapstructure:"rollbarToken"`
		SendgridApiKey   string `mapstructure:"sendgridApiKey"`
		DefaultFromEmail string `mapstructure:"defaultFromEmail"`

		Server     ServerConfig     `mapstructure:"server"`
		Store      StoreConfig      `mapstructure:"store"`
		Database   DatabaseConfig   `mapstructure:"database"`
		Mongo      MongoConfig      `mapstructure:"mongo"`
		Bolt       BoltConfig       `mapstructure:"bolt"`
		Redis      RedisConfig      `mapstructure:"redis"`
		Transition TransitionConfig `mapstructure:"transition"`
	}

	ServerConfig struct {
		Host            string        `mapstructure:"host"`
		DebugHost       string        `mapstructure:"debugHost"`
		ReadTimeout     time.Duration `mapstructure:"readTimeout"`
		WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	}

	StoreConfig struct {
		Engine      string `mapstructure:"engine"` // memory | postgres | mongo | bolt
		MaxBatchOps int    `mapstructure:"maxBatchOps"`
	}

	DatabaseConfig struct {
		Engine        string `mapstructure:"engine"`
		Host          string `mapstructure:"host"`
		Port          string `mapstructure:"port"`
		Name          string `mapstructure:"name"`
		User          string `mapstructure:"user"`
		Password      string `mapstructure:"password"`
		AdminUser     string `mapstructure:"adminUser"`
		AdminPassword string `mapstructure:"adminPassword"`
		DisableTLS    bool   `mapstructure:"disableTLS"`
	}

	MongoConfig struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	}

	BoltConfig struct {
		Path string `mapstructure:"path"`
	}

	RedisConfig struct {
		Addr     string        `mapstructure:"addr"` // empty: in-process locks
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		LockTTL  time.Duration `mapstructure:"lockTTL"`
	}

	TransitionConfig struct {
		ChunkSize int     `mapstructure:"chunkSize"`
		PassMark  float64 `mapstructure:"passMark"`
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// DefaultFrom parses DefaultFromEmail, falling back to a bare address.
func (c *Config) DefaultFrom() mail.Address {
	addr, err := mail.ParseAddress(c.DefaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.DefaultFromEmail}
	}
	return *addr
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "Kupanda")
	v.SetDefault("build", "develop")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("defaultFromEmail", "noreply@localhost")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 30*time.Second)
	v.SetDefault("server.shutdownTimeout", 10*time.Second)

	v.SetDefault("store.engine", StoreMemory)
	v.SetDefault("store.maxBatchOps", DefaultMaxBatchOps)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "kupanda")
	v.SetDefault("database.user", "kupanda")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017/?replicaSet=rs0")
	v.SetDefault("mongo.database", "kupanda")

	v.SetDefault("bolt.path", "kupanda.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lockTTL", 15*time.Minute)

	v.SetDefault("transition.chunkSize", DefaultMaxBatchOps)
	v.SetDefault("transition.passMark", 33.0)
}

// NewConfig loads the configuration from defaults, the optional `config/.env.<env>` file and
// environment variables prefixed with the current env (eg. DEV_DEBUG=false, PROD_STORE_ENGINE=mongo).
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetDefault("env", env)
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}
	v.SetDefault("workDir", wd)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		log.Fatal(fmt.Errorf("config.Unmarshal(): %v", err))
	}
	return &conf
}

// NewTestConfig returns the default configuration in test mode, without touching the environment.
func NewTestConfig() *Config {
	v := viper.New()
	setDefaults(v)
	v.Set("env", "TEST")
	v.Set("debug", true)
	v.Set("testMode", true)

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		log.Fatal(fmt.Errorf("config.Unmarshal(): %v", err))
	}
	return &conf
}
