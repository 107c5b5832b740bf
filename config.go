package leapkit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads and validates a LeapKit config, see ReadConfig.
func LoadConfig(path string) (*LeapKit, error) {
	lk, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}

	err = lk.Validate()
	if err != nil {
		return nil, err
	}
	return lk, nil
}

// ReadConfig decodes a LeapKit from a JSON file, or from YAML when the
// extension is .yaml or .yml, without checking the blinds. YAML keys are the
// lowercased field names.
func ReadConfig(path string) (*LeapKit, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't read config file (%s)", path)
	}

	lk := &LeapKit{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, lk)
	default:
		err = json.Unmarshal(content, lk)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed unmarshalling config (%s)", path)
	}
	return lk, nil
}

// ValidateBridge checks the part of the config needed to reach the bridge.
func (lk *LeapKit) ValidateBridge() error {
	if len(lk.Bridge.Host) == 0 {
		return errors.New("bridge Host not set")
	}
	if len(lk.Bridge.CertFile) == 0 || len(lk.Bridge.KeyFile) == 0 || len(lk.Bridge.CaFile) == 0 {
		return errors.New("bridge CertFile, KeyFile and CaFile must be set")
	}
	return nil
}

// Validate checks what LeapKit needs before connecting anywhere.
func (lk *LeapKit) Validate() error {
	if len(lk.Blinds) == 0 {
		return errors.New("no blinds configured")
	}

	zones := map[string]bool{}
	for i, blind := range lk.Blinds {
		if blind == nil {
			return errors.Errorf("blind #%d is empty", i)
		}
		err := blind.Device.Validate()
		if err != nil {
			return errors.Wrapf(err, "blind #%d", i)
		}
		zone := blind.Device.ZoneHref()
		if zones[zone] {
			return errors.Errorf("blind #%d: zone %s used twice", i, zone)
		}
		zones[zone] = true
	}

	if len(lk.HkPin) > 0 && !validPin(lk.HkPin) {
		return errors.Errorf("HkPin must have 8 digits, got %q", lk.HkPin)
	}
	return nil
}

func validPin(pin string) bool {
	if len(pin) != 8 {
		return false
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
