package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	defaultConnectTimeout = 5 * time.Second
	defaultKeepAlive      = 60
	defaultReconnectDelay = 3 * time.Second
)

// Will is published by the broker when the session drops unexpectedly.
type Will struct {
	Topic   string
	Payload []byte
	QoS     QoS
	Retain  bool
}

// ClientConfig holds the settings of one MQTT session.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds.
	KeepAlive uint16

	// SessionExpiry in seconds. Zero ends the session on disconnect.
	SessionExpiry uint32

	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	CleanStart     bool

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	Will *Will
}

// withDefaults returns a copy of c with zero values replaced.
func (c ClientConfig) withDefaults() ClientConfig {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	return c
}

// Validate reports every invalid field.
func (c *ClientConfig) Validate() error {
	var errs []error

	if c.BrokerURL == "" {
		errs = append(errs, errors.New("broker url is required"))
	} else if u, err := url.Parse(c.BrokerURL); err != nil {
		errs = append(errs, fmt.Errorf("broker url: %w", err))
	} else if u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("broker url %q must look like scheme://host:port", c.BrokerURL))
	}

	if c.ClientID == "" {
		errs = append(errs, errors.New("client id is required"))
	}

	if c.Will != nil {
		if c.Will.Topic == "" {
			errs = append(errs, errors.New("will topic is required when a will is set"))
		}
		if c.Will.QoS > ExactlyOnce {
			errs = append(errs, fmt.Errorf("will qos %d is out of range", c.Will.QoS))
		}
	}

	return errors.Join(errs...)
}
