package config

import (
	"fmt"
	"time"
)

// Load balancer strategy names accepted in route configuration.
const (
	LoadBalancerNone            = "None"
	LoadBalancerRoundRobin      = "RoundRobin"
	LoadBalancerLeastConnection = "LeastConnection"
)

// Discovery providers.
const (
	DiscoveryStatic = "static"
	DiscoveryRedis  = "redis"
	DiscoveryConsul = "consul"
	DiscoveryDNS    = "dns"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultListenAddress     = ":8080"
	DefaultAdminAddress      = ":9090"
	DefaultRequestIDKey      = "X-Request-ID"
	DefaultDownstreamScheme  = "http"
	DefaultDownstreamTimeout = 90 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultRefreshTTL        = 30 * time.Second
	DefaultBreakerFailures   = 5
	DefaultBreakerTimeout    = 30 * time.Second
	DefaultCacheMaxEntries   = 10000
	DefaultCacheShards       = 16
	DefaultSuccessToClose    = 1
)

// GatewayConfig is the root of a gateway configuration document.
type GatewayConfig struct {
	APIVersion string      `yaml:"apiVersion" json:"apiVersion" toml:"apiVersion" validate:"required"`
	Kind       string      `yaml:"kind" json:"kind" toml:"kind" validate:"required,eq=Gateway"`
	Metadata   Metadata    `yaml:"metadata" json:"metadata" toml:"metadata"`
	Spec       GatewaySpec `yaml:"spec" json:"spec" toml:"spec"`
}

// Metadata identifies the gateway instance.
type Metadata struct {
	Name string `yaml:"name" json:"name" toml:"name" validate:"required"`
}

// GatewaySpec holds everything the gateway serves and how.
type GatewaySpec struct {
	Listener     ListenerConfig   `yaml:"listener" json:"listener" toml:"listener"`
	Admin        AdminConfig      `yaml:"admin" json:"admin" toml:"admin"`
	Logging      LoggingConfig    `yaml:"logging" json:"logging" toml:"logging"`
	Tracing      TracingConfig    `yaml:"tracing" json:"tracing" toml:"tracing"`
	RequestIDKey string           `yaml:"requestIdKey,omitempty" json:"requestIdKey,omitempty" toml:"requestIdKey"`
	Downstream   DownstreamConfig `yaml:"downstream" json:"downstream" toml:"downstream"`
	Discovery    DiscoveryConfig  `yaml:"discovery" json:"discovery" toml:"discovery"`
	Cache        CacheConfig      `yaml:"cache" json:"cache" toml:"cache"`
	Services     []ServiceConfig  `yaml:"services,omitempty" json:"services,omitempty" toml:"services" validate:"dive"`
	Routes       []RouteConfig    `yaml:"routes" json:"routes" toml:"routes" validate:"dive"`
}

// ListenerConfig configures the public gateway listener.
type ListenerConfig struct {
	Address         string   `yaml:"address" json:"address" toml:"address" validate:"required"`
	ReadTimeout     Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty" toml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty" toml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty" toml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty" toml:"shutdownTimeout"`
}

// AdminConfig configures the administration server (configuration API,
// cache purge, health and metrics).
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	Address string `yaml:"address" json:"address" toml:"address" validate:"required_if=Enabled true"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" toml:"format" validate:"omitempty,oneof=json console"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" toml:"enabled"`
	Endpoint     string  `yaml:"endpoint,omitempty" json:"endpoint,omitempty" toml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate" toml:"samplingRate" validate:"gte=0,lte=1"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty" toml:"serviceName"`
}

// DownstreamConfig configures the outbound HTTP client.
type DownstreamConfig struct {
	Timeout             Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
	DialTimeout         Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty" toml:"dialTimeout"`
	MaxIdleConnsPerHost int      `yaml:"maxIdleConnsPerHost,omitempty" json:"maxIdleConnsPerHost,omitempty" toml:"maxIdleConnsPerHost" validate:"gte=0"`
	InsecureSkipVerify  bool     `yaml:"insecureSkipVerify,omitempty" json:"insecureSkipVerify,omitempty" toml:"insecureSkipVerify"`
}

// DiscoveryConfig selects and configures the dynamic service resolver.
// Services declared statically in spec.services are always resolved
// first regardless of provider.
type DiscoveryConfig struct {
	Provider   string               `yaml:"provider" json:"provider" toml:"provider" validate:"omitempty,oneof=static redis consul dns"`
	RefreshTTL Duration             `yaml:"refreshTTL,omitempty" json:"refreshTTL,omitempty" toml:"refreshTTL"`
	Redis      RedisConfig          `yaml:"redis,omitempty" json:"redis,omitempty" toml:"redis"`
	Consul     ConsulConfig         `yaml:"consul,omitempty" json:"consul,omitempty" toml:"consul"`
	DNS        DNSConfig            `yaml:"dns,omitempty" json:"dns,omitempty" toml:"dns"`
	Breaker    DiscoveryBreaker     `yaml:"breaker,omitempty" json:"breaker,omitempty" toml:"breaker"`
	Retry      DiscoveryRetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry"`
}

// RedisConfig locates a Redis server.
type RedisConfig struct {
	Address   string `yaml:"address" json:"address" toml:"address"`
	Password  string `yaml:"password,omitempty" json:"-" toml:"password"`
	DB        int    `yaml:"db,omitempty" json:"db,omitempty" toml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty" toml:"keyPrefix"`
}

// ConsulConfig locates a Consul agent.
type ConsulConfig struct {
	Address     string `yaml:"address" json:"address" toml:"address"`
	Scheme      string `yaml:"scheme,omitempty" json:"scheme,omitempty" toml:"scheme" validate:"omitempty,oneof=http https"`
	Token       string `yaml:"token,omitempty" json:"-" toml:"token"`
	PassingOnly bool   `yaml:"passingOnly" json:"passingOnly" toml:"passingOnly"`
}

// DNSConfig configures SRV-record discovery.
type DNSConfig struct {
	Server  string   `yaml:"server" json:"server" toml:"server"`
	Domain  string   `yaml:"domain,omitempty" json:"domain,omitempty" toml:"domain"`
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" toml:"timeout"`
}

// DiscoveryBreaker configures the breaker around registry lookups.
type DiscoveryBreaker struct {
	MaxFailures uint32   `yaml:"maxFailures,omitempty" json:"maxFailures,omitempty" toml:"maxFailures"`
	Timeout     Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" toml:"timeout"`
}

// DiscoveryRetryConfig configures retries of registry lookups.
type DiscoveryRetryConfig struct {
	MaxAttempts    int      `yaml:"maxAttempts,omitempty" json:"maxAttempts,omitempty" toml:"maxAttempts" validate:"gte=0"`
	InitialBackoff Duration `yaml:"initialBackoff,omitempty" json:"initialBackoff,omitempty" toml:"initialBackoff"`
	MaxBackoff     Duration `yaml:"maxBackoff,omitempty" json:"maxBackoff,omitempty" toml:"maxBackoff"`
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	Type          string      `yaml:"type" json:"type" toml:"type" validate:"omitempty,oneof=memory redis"`
	MaxEntries    int         `yaml:"maxEntries,omitempty" json:"maxEntries,omitempty" toml:"maxEntries" validate:"gte=0"`
	Shards        int         `yaml:"shards,omitempty" json:"shards,omitempty" toml:"shards" validate:"gte=0"`
	SweepInterval Duration    `yaml:"sweepInterval,omitempty" json:"sweepInterval,omitempty" toml:"sweepInterval"`
	Redis         RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty" toml:"redis"`
}

// ServiceConfig is a statically declared downstream service.
type ServiceConfig struct {
	Name      string           `yaml:"name" json:"name" toml:"name" validate:"required"`
	Endpoints []EndpointConfig `yaml:"endpoints" json:"endpoints" toml:"endpoints" validate:"dive"`
}

// EndpointConfig is one network address of a downstream service.
type EndpointConfig struct {
	Host string `yaml:"host" json:"host" toml:"host" validate:"required"`
	Port int    `yaml:"port" json:"port" toml:"port" validate:"required,min=1,max=65535"`
	Tag  string `yaml:"tag,omitempty" json:"tag,omitempty" toml:"tag"`
}

// RouteConfig maps an upstream path pattern to a downstream target.
type RouteConfig struct {
	Name                   string            `yaml:"name" json:"name" toml:"name"`
	UpstreamPathTemplate   string            `yaml:"upstreamPathTemplate" json:"upstreamPathTemplate" toml:"upstreamPathTemplate" validate:"required,pathtemplate"`
	UpstreamHTTPMethods    []string          `yaml:"upstreamHttpMethods,omitempty" json:"upstreamHttpMethods,omitempty" toml:"upstreamHttpMethods" validate:"dive,httpmethod"`
	DownstreamPathTemplate string            `yaml:"downstreamPathTemplate" json:"downstreamPathTemplate" toml:"downstreamPathTemplate" validate:"required,pathtemplate"`
	DownstreamScheme       string            `yaml:"downstreamScheme,omitempty" json:"downstreamScheme,omitempty" toml:"downstreamScheme" validate:"omitempty,oneof=http https"`
	DownstreamHostAndPorts []EndpointConfig  `yaml:"downstreamHostAndPorts,omitempty" json:"downstreamHostAndPorts,omitempty" toml:"downstreamHostAndPorts" validate:"dive"`
	ServiceName            string            `yaml:"serviceName,omitempty" json:"serviceName,omitempty" toml:"serviceName"`
	LoadBalancer           string            `yaml:"loadBalancer,omitempty" json:"loadBalancer,omitempty" toml:"loadBalancer" validate:"omitempty,lbstrategy"`
	QoS                    *QoSConfig        `yaml:"qos,omitempty" json:"qos,omitempty" toml:"qos"`
	Cache                  *RouteCacheConfig `yaml:"cache,omitempty" json:"cache,omitempty" toml:"cache"`
	RateLimit              *RateLimitConfig  `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty" toml:"rateLimit"`
	RequestIDKey           string            `yaml:"requestIdKey,omitempty" json:"requestIdKey,omitempty" toml:"requestIdKey"`
}

// QoSConfig is a route's timeout and circuit breaker policy.
type QoSConfig struct {
	Timeout                         Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" toml:"timeout"`
	ExceptionsAllowedBeforeBreaking int      `yaml:"exceptionsAllowedBeforeBreaking" json:"exceptionsAllowedBeforeBreaking" toml:"exceptionsAllowedBeforeBreaking" validate:"gte=0"`
	DurationOfBreak                 Duration `yaml:"durationOfBreak,omitempty" json:"durationOfBreak,omitempty" toml:"durationOfBreak"`
	SuccessThresholdToClose         int      `yaml:"successThresholdToClose,omitempty" json:"successThresholdToClose,omitempty" toml:"successThresholdToClose" validate:"gte=0"`
	CountClientErrors               bool     `yaml:"countClientErrors,omitempty" json:"countClientErrors,omitempty" toml:"countClientErrors"`
}

// RouteCacheConfig is a route's response cache policy.
type RouteCacheConfig struct {
	TTL         Duration `yaml:"ttl" json:"ttl" toml:"ttl"`
	Region      string   `yaml:"region,omitempty" json:"region,omitempty" toml:"region"`
	VaryHeaders []string `yaml:"varyHeaders,omitempty" json:"varyHeaders,omitempty" toml:"varyHeaders"`
}

// RateLimitConfig is a route's token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond" json:"requestsPerSecond" toml:"requestsPerSecond" validate:"gt=0"`
	Burst             int     `yaml:"burst" json:"burst" toml:"burst" validate:"gte=1"`
}

// ApplyDefaults fills unset fields in place. It is idempotent.
func ApplyDefaults(cfg *GatewayConfig) {
	spec := &cfg.Spec

	if spec.Listener.Address == "" {
		spec.Listener.Address = DefaultListenAddress
	}
	if spec.Listener.ShutdownTimeout == 0 {
		spec.Listener.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if spec.Admin.Enabled && spec.Admin.Address == "" {
		spec.Admin.Address = DefaultAdminAddress
	}
	if spec.Logging.Level == "" {
		spec.Logging.Level = "info"
	}
	if spec.Logging.Format == "" {
		spec.Logging.Format = "json"
	}
	if spec.Tracing.ServiceName == "" {
		spec.Tracing.ServiceName = cfg.Metadata.Name
	}
	if spec.RequestIDKey == "" {
		spec.RequestIDKey = DefaultRequestIDKey
	}
	if spec.Downstream.Timeout == 0 {
		spec.Downstream.Timeout = Duration(DefaultDownstreamTimeout)
	}

	applyDiscoveryDefaults(&spec.Discovery)
	applyCacheDefaults(&spec.Cache)

	for i := range spec.Routes {
		applyRouteDefaults(&spec.Routes[i], i)
	}
}

func applyDiscoveryDefaults(d *DiscoveryConfig) {
	if d.Provider == "" {
		d.Provider = DiscoveryStatic
	}
	if d.RefreshTTL == 0 {
		d.RefreshTTL = Duration(DefaultRefreshTTL)
	}
	if d.Breaker.MaxFailures == 0 {
		d.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if d.Breaker.Timeout == 0 {
		d.Breaker.Timeout = Duration(DefaultBreakerTimeout)
	}
	if d.Consul.Scheme == "" {
		d.Consul.Scheme = "http"
	}
	if d.Redis.KeyPrefix == "" {
		d.Redis.KeyPrefix = "routegw:services:"
	}
}

func applyCacheDefaults(c *CacheConfig) {
	if c.Type == "" {
		c.Type = CacheMemory
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Shards == 0 {
		c.Shards = DefaultCacheShards
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "routegw:cache:"
	}
}

func applyRouteDefaults(r *RouteConfig, index int) {
	if r.Name == "" {
		r.Name = fmt.Sprintf("route-%d", index)
	}
	if r.DownstreamScheme == "" {
		r.DownstreamScheme = DefaultDownstreamScheme
	}
	if r.LoadBalancer == "" {
		r.LoadBalancer = LoadBalancerNone
	}
	if r.QoS != nil && r.QoS.SuccessThresholdToClose == 0 {
		r.QoS.SuccessThresholdToClose = DefaultSuccessToClose
	}
	if r.Cache != nil && r.Cache.Region == "" {
		r.Cache.Region = r.Name
	}
}

// HasBreaker reports whether the policy enables circuit breaking.
func (q *QoSConfig) HasBreaker() bool {
	return q != nil && q.ExceptionsAllowedBeforeBreaking > 0
}
