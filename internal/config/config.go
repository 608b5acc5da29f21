package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/trinity.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"/app/data/trinity.log"`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`
	AuthDisabled bool   `envconfig:"AUTH_DISABLED" default:"false"`

	// Container runtime
	RuntimeBackend string `envconfig:"RUNTIME_BACKEND" default:"auto"`
	DockerHost     string `envconfig:"DOCKER_HOST" default:""`
	DockerTLSCA    string `envconfig:"DOCKER_TLS_CA" default:""`
	DockerTLSCert  string `envconfig:"DOCKER_TLS_CERT" default:""`
	DockerTLSKey   string `envconfig:"DOCKER_TLS_KEY" default:""`
	K8sNamespace   string `envconfig:"K8S_NAMESPACE" default:"trinity"`

	AgentContainerPrefix string `envconfig:"AGENT_CONTAINER_PREFIX" default:"agent-"`
	SystemContainer      string `envconfig:"SYSTEM_CONTAINER" default:"trinity-system"`

	// Terminal gateway
	TerminalUser         string   `envconfig:"TERMINAL_USER" default:"developer"`
	TerminalWorkdir      string   `envconfig:"TERMINAL_WORKDIR" default:"/home/developer"`
	TerminalShellCommand []string `envconfig:"TERMINAL_SHELL_COMMAND" default:"/bin/bash,-l"`
	TerminalAgentCommand []string `envconfig:"TERMINAL_AGENT_COMMAND" default:"claude"`
	TerminalModesFile    string   `envconfig:"TERMINAL_MODES_FILE" default:""`
	TerminalAuthTimeout  string   `envconfig:"TERMINAL_AUTH_TIMEOUT" default:"10s"`
	TerminalStaleAfter   string   `envconfig:"TERMINAL_STALE_AFTER" default:"5m"`
	TerminalPollInterval string   `envconfig:"TERMINAL_POLL_INTERVAL" default:"100ms"`
	TerminalTicketTTL    string   `envconfig:"TERMINAL_TICKET_TTL" default:"60s"`

	AuditRetentionDays int `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("TRINITY", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// Duration parses one of the duration-valued settings, falling back to def
// when the value is empty, malformed or not positive.
func Duration(name, value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		log.Printf("Invalid %s %q, using %s", name, value, def)
		return def
	}
	return d
}
