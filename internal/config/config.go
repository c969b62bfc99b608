// Package config loads runtime configuration for every clusterkeeper
// binary from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/caarlos0/env/v11"
)

// Config holds configuration shared by all clusterkeeper entrypoints.
// Individual binaries only read the fields relevant to them.
type Config struct {
	// Mode selects which control-plane loop this process runs:
	// bootstrap | lifecycle-handler | backup-loop | health-loop.
	Mode string `env:"MODE,required"`

	// Cluster identity. All KV-lock, parameter-registry, and snapshot
	// keys are namespaced beneath this name.
	ClusterName string `env:"CLUSTER_NAME,required"`

	// InstanceID is this process's own instance id, used as lock
	// holder id and member-record key during bootstrap.
	InstanceID string `env:"INSTANCE_ID,required"`

	// KubernetesVersion gates kubeadm-init/join parameter construction.
	KubernetesVersion string `env:"KUBERNETES_VERSION"`

	// NodeName is this instance's Kubernetes node name, used as both the
	// local etcd member name and the kubectl drain target during its own
	// eventual termination.
	NodeName string `env:"NODE_NAME"`

	// Control-plane init document fields (spec.md §4.3's "initialization
	// path"), only read by the first-node initializer.
	AdvertiseAddress     string `env:"ADVERTISE_ADDRESS"`
	PodSubnet            string `env:"POD_SUBNET" envDefault:"10.244.0.0/16"`
	ServiceSubnet        string `env:"SERVICE_SUBNET" envDefault:"10.96.0.0/12"`
	ServiceAccountIssuer string `env:"SERVICE_ACCOUNT_ISSUER"`
	AuditPolicyPath      string `env:"AUDIT_POLICY_PATH" envDefault:"/etc/kubernetes/audit-policy.yaml"`
	AuditLogMaxSizeMB    int    `env:"AUDIT_LOG_MAX_SIZE_MB" envDefault:"100"`

	// AutoScalingGroupName is loaded but not read by any mode; lifecycle
	// completion calls use the group name carried in each event.
	AutoScalingGroupName string `env:"AUTO_SCALING_GROUP_NAME"`

	// AWS
	AWSRegion string `env:"AWS_REGION" envDefault:"us-east-1"`

	// KV-Lock store / member-record table.
	LockTableName string `env:"LOCK_TABLE_NAME,required"`

	// Parameter registry path root, rendered as /<prefix>/<cluster>/...
	ParameterPathPrefix string `env:"PARAMETER_PATH_PREFIX" envDefault:"/clusterkeeper"`
	ParameterKMSKeyID   string `env:"PARAMETER_KMS_KEY_ID"`

	// Snapshot object store.
	SnapshotBucket string `env:"SNAPSHOT_BUCKET,required"`

	// Logging.
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Metrics: Prometheus pushgateway URL. Empty disables push: metrics are
	// still recorded in-process, but Flush sends nothing.
	MetricsPushURL string `env:"METRICS_PUSH_URL"`

	// Remote-exec timeouts (§4.2).
	EtcdOpTimeout      time.Duration `env:"SSM_COMMAND_TIMEOUT_ETCD" envDefault:"60s"`
	DrainBackupTimeout time.Duration `env:"SSM_COMMAND_TIMEOUT_LONG" envDefault:"120s"`
	PollGraceMin       time.Duration `env:"SSM_POLL_GRACE_MIN" envDefault:"10s"`
	PollGraceMax       time.Duration `env:"SSM_POLL_GRACE_MAX" envDefault:"30s"`
	PollInterval       time.Duration `env:"SSM_POLL_INTERVAL" envDefault:"5s"`

	// Retry tunables (§7).
	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBase        time.Duration `env:"RETRY_BASE" envDefault:"5s"`
	RetryJitter      float64       `env:"RETRY_JITTER" envDefault:"0.3"`

	// Bootstrap coordinator thresholds (§4.3).
	InitPollInterval    time.Duration `env:"INIT_POLL_INTERVAL" envDefault:"10s"`
	InitPollTimeout     time.Duration `env:"INIT_POLL_TIMEOUT" envDefault:"5m"`
	TokenTTL            time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	TokenRefreshAge     time.Duration `env:"TOKEN_REFRESH_AGE" envDefault:"20h"`
	CertKeyTTL          time.Duration `env:"CERT_KEY_TTL" envDefault:"2h"`
	CertKeyRefreshAge   time.Duration `env:"CERT_KEY_REFRESH_AGE" envDefault:"90m"`
	TokenLockFreshness  time.Duration `env:"TOKEN_LOCK_FRESHNESS" envDefault:"60s"`
	RestoreLockStaleAge time.Duration `env:"RESTORE_LOCK_STALE_AGE" envDefault:"1800s"`

	// Etcd lifecycle manager (§4.4).
	MinHealthyControlPlane int           `env:"MIN_HEALTHY_CONTROL_PLANE" envDefault:"2"`
	DrainGracePeriod       time.Duration `env:"DRAIN_GRACE_PERIOD" envDefault:"30s"`
	DrainMaxAttempts       int           `env:"DRAIN_MAX_ATTEMPTS" envDefault:"3"`
	LifecycleHandlerBudget time.Duration `env:"LIFECYCLE_HANDLER_BUDGET" envDefault:"10m"`

	// Backup loop (§4.5).
	BackupInterval time.Duration `env:"BACKUP_INTERVAL" envDefault:"6h"`

	// Health & recovery loop (§4.6).
	HealthTickInterval  time.Duration `env:"HEALTH_TICK_INTERVAL" envDefault:"60s"`
	HealthFailureThresh int           `env:"HEALTH_FAILURE_THRESHOLD" envDefault:"3"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	if cfg.KubernetesVersion != "" {
		if _, err := semver.NewVersion(cfg.KubernetesVersion); err != nil {
			return nil, fmt.Errorf("parsing KUBERNETES_VERSION %q: %w", cfg.KubernetesVersion, err)
		}
	}
	return cfg, nil
}

// ParameterPath renders the full SSM Parameter Store path for a parameter
// registry key under this cluster, e.g. "cluster/endpoint" ->
// "/clusterkeeper/<cluster>/cluster/endpoint".
func (c *Config) ParameterPath(key string) string {
	return fmt.Sprintf("%s/%s/%s", c.ParameterPathPrefix, c.ClusterName, key)
}
