package configuration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iota-uz/sam-ingest/modules/sam/domain/samerrors"
)

type fileUpstream struct {
	WSDL       string `yaml:"wsdl" json:"wsdl"`
	Username   string `yaml:"username" json:"username"`
	Password   string `yaml:"password" json:"password"`
	HTTPAPIURL string `yaml:"http-api-url" json:"http-api-url"`
	HTTPAPIKey string `yaml:"http-api-key" json:"http-api-key"`
}

type fileConfig struct {
	Upstream        fileUpstream `yaml:"upstream" json:"upstream"`
	SSHHost         string       `yaml:"ssh-host" json:"ssh-host"`
	SSHPort         string       `yaml:"ssh-port" json:"ssh-port"`
	SSHUser         string       `yaml:"ssh-user" json:"ssh-user"`
	SSHPassword     string       `yaml:"ssh-password" json:"ssh-password"`
	FileStoragePath string       `yaml:"file-storage-path" json:"file-storage-path"`
}

func readConfigFile(path string) (fileConfig, error) {
	var fc fileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("%w: read config %s: %v", samerrors.ErrConfigInvalid, path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&fc); err != nil {
			return fc, fmt.Errorf("%w: decode %s: %v", samerrors.ErrConfigInvalid, path, err)
		}
		return fc, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return fc, fmt.Errorf("%w: decode %s: %v", samerrors.ErrConfigInvalid, path, err)
	}
	return fc, nil
}

// environment maps the non-empty file values onto the env keys of Configuration.
func (f fileConfig) environment() map[string]string {
	out := map[string]string{}
	set := func(key, value string) {
		if v := strings.TrimSpace(value); v != "" {
			out[key] = v
		}
	}
	set("SAM_WSDL", f.Upstream.WSDL)
	set("SAM_USERNAME", f.Upstream.Username)
	set("SAM_PASSWORD", f.Upstream.Password)
	set("SAM_HTTP_API_URL", f.Upstream.HTTPAPIURL)
	set("SAM_HTTP_API_KEY", f.Upstream.HTTPAPIKey)
	set("SAM_SSH_HOST", f.SSHHost)
	set("SAM_SSH_PORT", f.SSHPort)
	set("SAM_SSH_USER", f.SSHUser)
	set("SAM_SSH_PASSWORD", f.SSHPassword)
	set("FILE_STORAGE_PATH", f.FileStoragePath)
	return out
}
