package ircsync

import (
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strconv"
	"strings"

	"git.sr.ht/~emersion/go-scfg"
)

type Config struct {
	Addr     string
	Nick     string
	Real     string
	User     string
	Password *string
	TLS      bool
	Channels []string

	// NetID overrides the network identifier advertised by the server.
	NetID string

	// MetricsListen is the address the Prometheus endpoint listens on.
	// Empty disables it.
	MetricsListen string

	Debug bool
}

func Defaults() Config {
	return Config{
		TLS: true,
	}
}

func LoadConfigFile(filename string) (cfg Config, err error) {
	directives, err := scfg.Load(filename)
	if err != nil {
		return cfg, fmt.Errorf("error parsing scfg: %s", err)
	}
	return parseConfig(directives)
}

func parseConfig(directives scfg.Block) (cfg Config, err error) {
	cfg = Defaults()
	if err = unmarshal(directives, &cfg); err != nil {
		return cfg, err
	}
	if cfg.Addr == "" {
		return cfg, errors.New("address is required")
	}
	if cfg.Nick == "" {
		return cfg, errors.New("nickname is required")
	}
	if strings.ContainsAny(cfg.Nick, " ,*?!@") {
		return cfg, fmt.Errorf("invalid nickname %q", cfg.Nick)
	}
	if cfg.User == "" {
		cfg.User = cfg.Nick
	}
	if cfg.Real == "" {
		cfg.Real = cfg.Nick
	}
	var u *url.URL
	if u, err = url.Parse(cfg.Addr); err == nil && u.Scheme != "" {
		switch u.Scheme {
		case "ircs":
			cfg.TLS = true
		case "irc+insecure":
			cfg.TLS = false
		case "irc":
			// plain or TLS, as configured
		default:
			if u.Host != "" {
				return cfg, fmt.Errorf("invalid IRC address scheme: %v", cfg.Addr)
			}
		}
		if u.Host != "" {
			cfg.Addr = u.Host
		}
	}
	return cfg, nil
}

func parseBool(d *scfg.Directive, v *bool) error {
	var s string
	if err := d.ParseParams(&s); err != nil {
		return err
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("directive %q: %v", d.Name, err)
	}
	*v = b
	return nil
}

func unmarshal(directives scfg.Block, cfg *Config) error {
	for _, d := range directives {
		switch d.Name {
		case "address":
			if err := d.ParseParams(&cfg.Addr); err != nil {
				return err
			}
		case "nickname":
			if err := d.ParseParams(&cfg.Nick); err != nil {
				return err
			}
		case "username":
			if err := d.ParseParams(&cfg.User); err != nil {
				return err
			}
		case "realname":
			if err := d.ParseParams(&cfg.Real); err != nil {
				return err
			}
		case "password":
			// password-cmd wins
			if directives.Get("password-cmd") != nil {
				continue
			}
			var password string
			if err := d.ParseParams(&password); err != nil {
				return err
			}
			cfg.Password = &password
		case "password-cmd":
			var cmdName string
			if err := d.ParseParams(&cmdName); err != nil {
				return err
			}
			stdout, err := exec.Command(cmdName, d.Params[1:]...).Output()
			if err != nil {
				return fmt.Errorf("error running password command: %s", err)
			}
			password, _, _ := strings.Cut(string(stdout), "\n")
			cfg.Password = &password
		case "channel":
			cfg.Channels = append(cfg.Channels, d.Params...)
		case "network":
			if err := d.ParseParams(&cfg.NetID); err != nil {
				return err
			}
		case "metrics-listen":
			if err := d.ParseParams(&cfg.MetricsListen); err != nil {
				return err
			}
		case "tls":
			if err := parseBool(d, &cfg.TLS); err != nil {
				return err
			}
		case "debug":
			if err := parseBool(d, &cfg.Debug); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown directive %q", d.Name)
		}
	}
	return nil
}
