package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/iota-uz/utils/fs"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
	"github.com/iota-uz/sam-ingest/pkg/logging"
)

var DefaultEnvFiles = []string{".env", ".env.local"}

// LoadEnv loads the env files that exist, looking first in the working directory and then in the
// nearest parent directory that holds a go.mod.
func LoadEnv(envFiles []string) (int, error) {
	existingFiles := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if fs.FileExists(file) {
			existingFiles = append(existingFiles, file)
		}
	}
	if len(existingFiles) == 0 {
		if root := moduleRoot(); root != "" {
			for _, file := range envFiles {
				p := filepath.Join(root, file)
				if fs.FileExists(p) {
					existingFiles = append(existingFiles, p)
				}
			}
		}
	}

	if len(existingFiles) == 0 {
		return 0, nil
	}

	return len(existingFiles), godotenv.Load(existingFiles...)
}

func moduleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if fs.FileExists(filepath.Join(dir, "go.mod")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"data_broker"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

// SAMOptions holds the upstream registry endpoints and credentials.
type SAMOptions struct {
	WSDL       string `env:"SAM_WSDL"`
	Username   string `env:"SAM_USERNAME"`
	Password   string `env:"SAM_PASSWORD"`
	HTTPAPIURL string `env:"SAM_HTTP_API_URL"`
	HTTPAPIKey string `env:"SAM_HTTP_API_KEY"`

	LookupBatchSize int           `env:"SAM_LOOKUP_BATCH_SIZE" envDefault:"100"`
	LookupRPS       float64       `env:"SAM_LOOKUP_RPS" envDefault:"0"`
	HTTPTimeout     time.Duration `env:"SAM_HTTP_TIMEOUT" envDefault:"10m"`
}

type SFTPOptions struct {
	Host        string        `env:"SAM_SSH_HOST"`
	Port        string        `env:"SAM_SSH_PORT" envDefault:"22"`
	User        string        `env:"SAM_SSH_USER"`
	Password    string        `env:"SAM_SSH_PASSWORD"`
	EntityDir   string        `env:"SAM_SFTP_ENTITY_DIR" envDefault:"/current/SAM/2_FOUO/UTF-8/"`
	ExecCompDir string        `env:"SAM_SFTP_EXEC_COMP_DIR" envDefault:"/current/SAM/6_EXECCOMP/UTF-8/"`
	DialTimeout time.Duration `env:"SAM_SFTP_DIAL_TIMEOUT" envDefault:"30s"`
	KnownHosts  string        `env:"SAM_SSH_KNOWN_HOSTS"`
}

func (s *SFTPOptions) Address() string {
	port := strings.TrimSpace(s.Port)
	if port == "" {
		port = "22"
	}
	return s.Host + ":" + port
}

type Configuration struct {
	Database DatabaseOptions
	SAM      SAMOptions
	SFTP     SFTPOptions

	FileStoragePath string `env:"FILE_STORAGE_PATH"`
	MetricsDir      string `env:"METRICS_DIR" envDefault:"."`
	PushgatewayURL  string `env:"METRICS_PUSHGATEWAY_URL"`
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	LogPath         string `env:"LOG_PATH"`

	logFile *os.File
	logger  *logrus.Logger
}

type LoadOptions struct {
	EnvFiles   []string
	ConfigPath string
}

// Load reads env files, the optional config file and the process environment, in increasing order
// of precedence.
func Load(opts LoadOptions) (*Configuration, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = DefaultEnvFiles
	}
	c := &Configuration{}
	if err := c.load(envFiles, opts.ConfigPath); err != nil {
		c.Unload()
		return nil, err
	}
	return c, nil
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

func (c *Configuration) load(envFiles []string, configPath string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}

	environment := map[string]string{}
	if strings.TrimSpace(configPath) != "" {
		fc, err := readConfigFile(configPath)
		if err != nil {
			return err
		}
		for k, v := range fc.environment() {
			environment[k] = v
		}
	}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && v != "" {
			environment[k] = v
		}
	}
	if err := env.ParseWithOptions(c, env.Options{Environment: environment}); err != nil {
		return fmt.Errorf("%w: %v", samerrors.ErrConfigInvalid, err)
	}

	if c.FileStoragePath == "" {
		c.FileStoragePath = os.TempDir()
	}
	if c.SAM.LookupBatchSize <= 0 {
		return fmt.Errorf("%w: SAM_LOOKUP_BATCH_SIZE=%d (expected > 0)", samerrors.ErrConfigInvalid, c.SAM.LookupBatchSize)
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	return nil
}

// LookupReady reports whether the entity-lookup credential triple is present.
func (c *Configuration) LookupReady() bool {
	return c.SAM.WSDL != "" && c.SAM.Username != "" && c.SAM.Password != ""
}

func (c *Configuration) SFTPConfigured() bool {
	return c.SFTP.Host != "" && c.SFTP.User != "" && c.SFTP.Password != ""
}

func (c *Configuration) HTTPConfigured() bool {
	return c.SAM.HTTPAPIURL != ""
}

func (c *Configuration) ValidateLookup() error {
	var missing []string
	if c.SAM.WSDL == "" {
		missing = append(missing, "upstream.wsdl")
	}
	if c.SAM.Username == "" {
		missing = append(missing, "upstream.username")
	}
	if c.SAM.Password == "" {
		missing = append(missing, "upstream.password")
	}
	return missingKeys(missing)
}

func (c *Configuration) ValidateFileSource() error {
	if c.SFTPConfigured() || c.HTTPConfigured() {
		return nil
	}
	return missingKeys([]string{"ssh-host/ssh-user/ssh-password or upstream.http-api-url"})
}

func missingKeys(keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing %s", samerrors.ErrConfigInvalid, strings.Join(keys, ", "))
}

// Unload closes the log file, if any.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
