package service

import (
	"fmt"

	"github.com/hashicorp/consul/api"
)

// Registry 封装 Consul 注册
// Registers this instance so gateways can discover the push endpoint.
type Registry struct {
	client *api.Client
}

// NewRegistry tries each consul address until one answers.
func NewRegistry(addrs []string) (*Registry, error) {
	var lastErr error
	for _, addr := range addrs {
		cfg := api.DefaultConfig()
		cfg.Address = addr
		cli, err := api.NewClient(cfg)
		if err == nil {
			if _, errPing := cli.Agent().Self(); errPing == nil {
				return &Registry{client: cli}, nil
			} else {
				lastErr = errPing
			}
		} else {
			lastErr = err
		}
	}
	return nil, fmt.Errorf("all consul addresses failed: %v", lastErr)
}

// Register announces the service with a TCP health check.
func (r *Registry) Register(serviceID, name string, port int) error {
	reg := &api.AgentServiceRegistration{
		ID:   serviceID,
		Name: name,
		Port: port,
		Check: &api.AgentServiceCheck{
			TCP:      fmt.Sprintf("127.0.0.1:%d", port),
			Interval: "10s",
			Timeout:  "2s",
		},
	}
	return r.client.Agent().ServiceRegister(reg)
}

func (r *Registry) Deregister(serviceID string) error {
	return r.client.Agent().ServiceDeregister(serviceID)
}
