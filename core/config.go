package core

import (
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

// Storage drivers
const (
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
	StorageMemory   = "memory"
)

// Blob drivers
const (
	BlobLocal = "local"
	BlobS3    = "s3"
	BlobB2    = "b2"
)

type Config struct {
	Env          string
	Build        string
	AppName      string
	Debug        bool
	TestMode     bool
	SecretKey    string
	RollbarToken string
	WorkDir      string
	Storage      string

	Server struct {
		Host                      string
		Address                   string
		DebugAddress              string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		ShutdownTimeout           time.Duration
	}

	Database DatabaseConfig

	Mongo struct {
		URI  string
		Name string
	}

	Blob struct {
		Driver      string
		Dir         string
		Bucket      string
		Region      string
		B2AccountID string
		B2AppKey    string
	}

	Upload UploadPolicy

	Email struct {
		SendgridAPIKey  string
		DefaultFromName string
		DefaultFrom     string
	}
}

type DatabaseConfig struct {
	Engine        string
	Host          string
	Port          string
	Name          string
	User          string
	Password      string
	AdminUser     string
	AdminPassword string
	DisableTLS    bool
}

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.Email.DefaultFromName, Address: c.Email.DefaultFrom}
}

// NewConfig loads the configuration of the current environment.
// ENV selects the environment: DEV (local; default), TEST, QA, PROD.
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("build", "develop")
	v.SetDefault("debug", env == "DEV" || env == "TEST")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("appName", "Darasa")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("storage", StoragePostgres)

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("serverDebugAddress", ":4000")
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("shutdownTimeout", 5*time.Second)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "darasa")
	v.SetDefault("dbUser", "darasa")
	v.SetDefault("dbPassword", "darasa")
	v.SetDefault("dbAdminUser", "postgres")
	v.SetDefault("dbAdminPassword", "postgres")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("mongoURI", "mongodb://localhost:27017")
	v.SetDefault("mongoName", "darasa")

	v.SetDefault("blobDriver", BlobLocal)
	v.SetDefault("blobDir", filepath.Join("static", "uploads"))
	v.SetDefault("blobBucket", "")
	v.SetDefault("blobRegion", "us-east-1")
	v.SetDefault("b2AccountID", "")
	v.SetDefault("b2AppKey", "")

	v.SetDefault("uploadMaxSize", DefaultMaxUploadSize)
	v.SetDefault("uploadAllowedExtensions", strings.Join(DefaultAllowedExtensions, ","))

	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("defaultFromName", "Darasa")
	v.SetDefault("defaultFromEmail", "noreply@localhost")

	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:          env,
		Build:        v.GetString("build"),
		AppName:      v.GetString("appName"),
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		SecretKey:    v.GetString("secretKey"),
		RollbarToken: v.GetString("rollbarToken"),
		WorkDir:      wd,
		Storage:      strings.ToLower(v.GetString("storage")),
	}

	conf.Server.Host = v.GetString("serverHost")
	conf.Server.Address = v.GetString("serverAddress")
	conf.Server.DebugAddress = v.GetString("serverDebugAddress")
	conf.Server.JWTExpirationDelta = v.GetDuration("jwtExpirationDelta")
	conf.Server.JWTRefreshExpirationDelta = v.GetDuration("jwtRefreshExpirationDelta")
	conf.Server.ShutdownTimeout = v.GetDuration("shutdownTimeout")

	conf.Database.Engine = v.GetString("dbEngine")
	conf.Database.Host = v.GetString("dbHost")
	conf.Database.Port = v.GetString("dbPort")
	conf.Database.Name = v.GetString("dbName")
	conf.Database.User = v.GetString("dbUser")
	conf.Database.Password = v.GetString("dbPassword")
	conf.Database.AdminUser = v.GetString("dbAdminUser")
	conf.Database.AdminPassword = v.GetString("dbAdminPassword")
	conf.Database.DisableTLS = v.GetBool("dbDisableTLS")

	conf.Mongo.URI = v.GetString("mongoURI")
	conf.Mongo.Name = v.GetString("mongoName")

	conf.Blob.Driver = strings.ToLower(v.GetString("blobDriver"))
	conf.Blob.Dir = v.GetString("blobDir")
	conf.Blob.Bucket = v.GetString("blobBucket")
	conf.Blob.Region = v.GetString("blobRegion")
	conf.Blob.B2AccountID = v.GetString("b2AccountID")
	conf.Blob.B2AppKey = v.GetString("b2AppKey")

	conf.Upload = UploadPolicy{
		MaxSize:           v.GetInt64("uploadMaxSize"),
		AllowedExtensions: splitList(v.GetString("uploadAllowedExtensions")),
	}

	conf.Email.SendgridAPIKey = v.GetString("sendgridApiKey")
	conf.Email.DefaultFromName = v.GetString("defaultFromName")
	conf.Email.DefaultFrom = v.GetString("defaultFromEmail")

	return conf
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = CleanString(p, true /* lower */); p != "" {
			out = append(out, p)
		}
	}
	return out
}
