// Package brand provides centralized branding constants for the CLI.
// The identity is loaded from brand.json at compile time via go:embed so
// other tooling (packaging scripts, docs) can read the same file.
package brand

import (
	_ "embed"
	"encoding/json"
)

//go:embed brand.json
var brandJSON []byte

// Brand holds all branding information.
type Brand struct {
	Name                   string `json:"name"`
	LowerName              string `json:"lowerName"`
	BinaryName             string `json:"binaryName"`
	Description            string `json:"description"`
	Repository             string `json:"repository"`
	ConfigEnvPrefix        string `json:"configEnvPrefix"`
	DefaultSystemConfigDir string `json:"defaultSystemConfigDir"`
	ConfigDirName          string `json:"configDirName"`
	DefaultServiceName     string `json:"defaultServiceName"`
}

var b Brand

func init() {
	if err := json.Unmarshal(brandJSON, &b); err != nil {
		panic("failed to parse brand.json: " + err.Error())
	}

	Name = b.Name
	LowerName = b.LowerName
	BinaryName = b.BinaryName
	Description = b.Description
	Repository = b.Repository
	ConfigEnvPrefix = b.ConfigEnvPrefix
	DefaultSystemConfigDir = b.DefaultSystemConfigDir
	ConfigDirName = b.ConfigDirName
	DefaultServiceName = b.DefaultServiceName
}

// Exported variables for convenience.
var (
	Name                   string
	LowerName              string
	BinaryName             string
	Description            string
	Repository             string
	ConfigEnvPrefix        string
	DefaultSystemConfigDir string
	ConfigDirName          string
	DefaultServiceName     string

	// Version is set at build time via -ldflags.
	Version = "dev"
)

// Get returns the full Brand struct.
func Get() Brand {
	return b
}

// EnvVar returns the fully prefixed environment variable name for suffix,
// e.g. EnvVar("HOME") -> "CLASHCTL_HOME".
func EnvVar(suffix string) string {
	return ConfigEnvPrefix + "_" + suffix
}
