package client

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	DefaultTimeout = 5 * time.Second
	DefaultRetries = 3
)

var (
	ErrMissingHost = errors.New("destination host is not configured")
	ErrInvalidPort = errors.New("destination port is missing or invalid")
)

// Destination is a named downstream gRPC service.
type Destination struct {
	Name    string
	Host    string
	Port    int
	Timeout time.Duration
	// Retries is the maximum number of attempts, not the number of retries after the first.
	Retries int
}

// Key identifies the cached connection for this destination.
func (d Destination) Key() string {
	return d.Name + "|" + d.Host + "|" + strconv.Itoa(d.Port)
}

// Target is the dial address.
func (d Destination) Target() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

func (d Destination) withDefaults() Destination {
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.Retries <= 0 {
		d.Retries = DefaultRetries
	}
	return d
}

// DestinationsFromEnv reads <NAME>_HOST, <NAME>_PORT, <NAME>_TIMEOUT and <NAME>_RETRIES
// for every name. A bare integer timeout is taken as milliseconds.
func DestinationsFromEnv(v *viper.Viper, names ...string) ([]Destination, error) {
	if v == nil {
		v = viper.New()
	}
	v.AutomaticEnv()

	destinations := make([]Destination, 0, len(names))
	for _, name := range names {
		d, err := destinationFromEnv(v, name)
		if err != nil {
			return nil, errors.Wrapf(err, "destination %s", name)
		}
		destinations = append(destinations, d)
	}
	return destinations, nil
}

func destinationFromEnv(v *viper.Viper, name string) (Destination, error) {
	prefix := strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_"

	d := Destination{
		Name: name,
		Host: strings.TrimSpace(v.GetString(prefix + "HOST")),
	}
	if d.Host == "" {
		return Destination{}, ErrMissingHost
	}

	port, err := strconv.Atoi(strings.TrimSpace(v.GetString(prefix + "PORT")))
	if err != nil || port <= 0 || port > 65535 {
		return Destination{}, ErrInvalidPort
	}
	d.Port = port

	if raw := strings.TrimSpace(v.GetString(prefix + "TIMEOUT")); raw != "" {
		timeout, err := parseTimeout(raw)
		if err != nil {
			return Destination{}, errors.Wrapf(err, "invalid timeout %q", raw)
		}
		d.Timeout = timeout
	}

	if raw := strings.TrimSpace(v.GetString(prefix + "RETRIES")); raw != "" {
		retries, err := strconv.Atoi(raw)
		if err != nil {
			return Destination{}, errors.Wrapf(err, "invalid retries %q", raw)
		}
		d.Retries = retries
	}

	return d.withDefaults(), nil
}

func parseTimeout(raw string) (time.Duration, error) {
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}
