package util

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// ClusterConfig lists every process taking part in a run. Process k listens
// for RPCs on Procs[k] and answers heartbeats on HeartbeatAddrs[k].
type ClusterConfig struct {
	Procs          []string `validate:"required,min=1,dive,hostname_port"`
	HeartbeatAddrs []string `validate:"omitempty,dive,hostname_port"`
	LostMsgsThresh uint8    `validate:"omitempty,min=1"`
	HeartbeatRTTMs uint32
	// ListenAllInterfaces binds each process's RPC port on every interface
	// instead of only the host named in Procs.
	ListenAllInterfaces bool `json:",omitempty"`
}

var validate = validator.New()

// Validate checks v against its `validate` struct tags.
func Validate(v interface{}) error {
	return validate.Struct(v)
}

func (c *ClusterConfig) Validate() error {
	if err := Validate(c); err != nil {
		return err
	}
	if len(c.HeartbeatAddrs) != 0 && len(c.HeartbeatAddrs) != len(c.Procs) {
		return fmt.Errorf("cluster config: %d heartbeat addrs for %d procs",
			len(c.HeartbeatAddrs), len(c.Procs))
	}
	return nil
}

func ReadJSONConfig(filename string, config interface{}) error {
	configData, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(configData, config)
}

func WriteJSONConfig(filename string, config interface{}) error {
	configData, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, append(configData, '\n'), 0644)
}

// ReadClusterConfig reads and validates a cluster file.
func ReadClusterConfig(filename string) (ClusterConfig, error) {
	var cfg ClusterConfig
	if err := ReadJSONConfig(filename, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// CheckErr logs at fatal level and exits when err is non-nil.
func CheckErr(err error, errfmsg string, fargs ...interface{}) {
	if err != nil {
		log.Fatal().Err(err).Msgf(errfmsg, fargs...)
	}
}
