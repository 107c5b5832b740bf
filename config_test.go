package leapkit

import (
	"os"
	"path/filepath"
	"testing"
)

const jsonConfig = `{
	"Name": "living room",
	"HkPin": "12344321",
	"RefreshInterval": "5m",
	"Bridge": {"Host": "192.168.1.20", "CertFile": "client.crt", "KeyFile": "client.key", "CaFile": "ca.crt"},
	"Blinds": [
		{"Name": "left", "Device": {"href": "/device/5", "SerialNumber": 100, "LocalZones": [{"href": "/zone/2"}]}}
	]
}`

const yamlConfig = `name: living room
hkpin: "12344321"
bridge:
  host: 192.168.1.20
  certfile: client.crt
blinds:
  - name: left
    device:
      href: /device/5
      serialnumber: 100
      localzones:
        - href: /zone/2
`

func writeConfig(t testing.TB, name string, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		content := jsonConfig
		if filepath.Ext(name) == ".yaml" {
			content = yamlConfig
		}

		lk, err := LoadConfig(writeConfig(t, name, content))
		if err != nil {
			t.Fatalf("%s: got error %v", name, err)
		}
		if lk.Name != "living room" || lk.HkPin != "12344321" || lk.Bridge.Host != "192.168.1.20" {
			t.Errorf("%s: got %+v", name, lk)
		}
		if len(lk.Blinds) != 1 || lk.Blinds[0].Device.ZoneHref() != "/zone/2" {
			t.Fatalf("%s: blinds not loaded", name)
		}
		if lk.Blinds[0].Device.SerialNumber != 100 {
			t.Errorf("%s: got serial %d", name, lk.Blinds[0].Device.SerialNumber)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidateConfig(t *testing.T) {
	cases := map[string]string{
		"no blinds":      `{"Blinds": []}`,
		"no zone":        `{"Blinds": [{"Device": {"href": "/device/5"}}]}`,
		"shared zone":    `{"Blinds": [{"Device": {"LocalZones": [{"href": "/zone/2"}]}}, {"Device": {"LocalZones": [{"href": "/zone/2"}]}}]}`,
		"short pin":      `{"HkPin": "123", "Blinds": [{"Device": {"LocalZones": [{"href": "/zone/2"}]}}]}`,
		"letters in pin": `{"HkPin": "12ab5678", "Blinds": [{"Device": {"LocalZones": [{"href": "/zone/2"}]}}]}`,
		"broken syntax":  `{"Blinds": [`,
	}

	for name, content := range cases {
		_, err := LoadConfig(writeConfig(t, "config.json", content))
		if err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestReadConfigForDiscovery(t *testing.T) {
	path := writeConfig(t, "config.json", `{"Bridge": {"Host": "10.0.0.5", "CertFile": "client.crt", "KeyFile": "client.key", "CaFile": "ca.crt"}}`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Error("expected LoadConfig to reject a config without blinds")
	}

	lk, err := ReadConfig(path)
	if err != nil {
		t.Fatalf("got error %v", err)
	}
	if err := lk.ValidateBridge(); err != nil {
		t.Errorf("bridge-only config rejected: %v", err)
	}
	if lk.Bridge.Host != "10.0.0.5" {
		t.Errorf("got host %q", lk.Bridge.Host)
	}
}

func TestValidateBridge(t *testing.T) {
	lk, err := ReadConfig(writeConfig(t, "config.json", `{"Bridge": {"CertFile": "client.crt"}}`))
	if err != nil {
		t.Fatalf("got error %v", err)
	}
	if err := lk.ValidateBridge(); err == nil {
		t.Error("expected error without bridge host")
	}

	lk.Bridge.Host = "10.0.0.5"
	if err := lk.ValidateBridge(); err == nil {
		t.Error("expected error without key and CA files")
	}
}
