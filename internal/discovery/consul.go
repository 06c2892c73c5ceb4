package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	consul "github.com/hashicorp/consul/api"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/retry"
)

// ConsulResolver resolves services from the health endpoint of a Consul
// agent.
type ConsulResolver struct {
	health      *consul.Health
	passingOnly bool
	retry       *retry.Config
}

// NewConsulResolver creates a resolver for the agent in cfg. A nil
// httpClient lets the Consul client build its own transport.
func NewConsulResolver(cfg config.ConsulConfig, httpClient *http.Client, retryCfg *retry.Config) (*ConsulResolver, error) {
	apiCfg := consul.DefaultConfig()
	apiCfg.Address = cfg.Address
	if cfg.Scheme != "" {
		apiCfg.Scheme = cfg.Scheme
	}
	if cfg.Token != "" {
		apiCfg.Token = cfg.Token
	}
	if httpClient != nil {
		apiCfg.HttpClient = httpClient
	}

	client, err := consul.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	return &ConsulResolver{
		health:      client.Health(),
		passingOnly: cfg.PassingOnly,
		retry:       retryCfg,
	}, nil
}

// Resolve implements Resolver. Server errors are retried; any other
// status from the agent fails the lookup at once.
func (c *ConsulResolver) Resolve(ctx context.Context, service string) ([]Endpoint, error) {
	var entries []*consul.ServiceEntry
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		var err error
		entries, _, err = c.health.Service(service, "", c.passingOnly, (&consul.QueryOptions{}).WithContext(ctx))
		var status consul.StatusError
		if errors.As(err, &status) && status.Code < http.StatusInternalServerError {
			return retry.Permanent(err)
		}
		return err
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("consul lookup of %q: %w", service, err)
	}

	eps := make([]Endpoint, 0, len(entries))
	for _, e := range entries {
		if e == nil || e.Service == nil {
			continue
		}
		host := e.Service.Address
		if host == "" && e.Node != nil {
			host = e.Node.Address
		}
		if host == "" || e.Service.Port <= 0 {
			continue
		}
		eps = append(eps, Endpoint{Host: host, Port: e.Service.Port, Tag: e.Service.ID})
	}
	return eps, nil
}
