package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "daemon":
		return daemonTemplate, nil
	case "client":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const daemonTemplate = `name = "nxwired"
listen = ":4701"
admin_addr = "127.0.0.1:4780"
upload_dir = "uploads"
admin_token = ""
cors_origins = ["http://localhost:3000"]

[session]
request_timeout = "30s"
transfer_idle_timeout = "60s"
max_frame_size = 8388608
max_transfer_size = 268435456
max_consecutive_frame_errors = 8
chunk_size = 65536
compress = true

[security]
mode = "development"
key_hex = ""

[log]
level = "info"
`

const clientTemplate = `name = "nxwirectl"
server = "127.0.0.1:4701"
connect_attempts = 3

[session]
request_timeout = "10s"
chunk_size = 65536
compress = true

[security]
mode = "development"
key_hex = ""

[log]
level = "info"
`
