package consul

import (
	"fmt"
	"net"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"
)

// Registration describes how this instance is announced to consul.
type Registration struct {
	Name       string
	Host       string
	Port       int
	HealthPath string // polled over HTTP, e.g. /ping
	GRPCHealth string // host:port of the grpc health server, optional
}

func NewClient(addr string) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	return client, nil
}

// ServiceID is unique per host and port so several instances can register under one name.
func ServiceID(r Registration) string {
	return r.Name + "-" + net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// AgentRegistration builds the agent payload for r.
func AgentRegistration(r Registration) *consulapi.AgentServiceRegistration {
	checks := consulapi.AgentServiceChecks{}
	if r.HealthPath != "" {
		checks = append(checks, &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s%s", net.JoinHostPort(r.Host, strconv.Itoa(r.Port)), r.HealthPath),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		})
	}
	if r.GRPCHealth != "" {
		checks = append(checks, &consulapi.AgentServiceCheck{
			GRPC:     r.GRPCHealth,
			Interval: "10s",
			Timeout:  "2s",
		})
	}
	return &consulapi.AgentServiceRegistration{
		ID:      ServiceID(r),
		Name:    r.Name,
		Address: r.Host,
		Port:    r.Port,
		Checks:  checks,
	}
}

// Register announces the instance and returns the id to pass to Deregister.
func Register(client *consulapi.Client, r Registration) (string, error) {
	reg := AgentRegistration(r)
	if err := client.Agent().ServiceRegister(reg); err != nil {
		return "", fmt.Errorf("register %s with consul: %w", r.Name, err)
	}
	return reg.ID, nil
}

func Deregister(client *consulapi.Client, serviceID string) error {
	if err := client.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("deregister %s from consul: %w", serviceID, err)
	}
	return nil
}
