package bootstrap

import (
	"fmt"
	"regexp"
)

var safeToken = regexp.MustCompile(`^[A-Za-z0-9.\-_/:= ]+$`)

func mustSafeLocal(op, val string) string {
	if val == "" || !safeToken.MatchString(val) {
		panic(fmt.Sprintf("bootstrap: %s: unsafe value %q", op, val))
	}
	return val
}

// InitParams describes the control-plane init configuration document
// (spec.md §4.3 "Initialization path").
type InitParams struct {
	AdvertiseAddress      string
	NodeName              string
	PodSubnet             string
	ServiceSubnet         string
	ServiceAccountIssuer  string
	AuditPolicyPath       string
	AuditLogMaxSizeMB     int
	KubernetesVersion     string
	IgnorePreflightErrors string // extra comma-separated checks to skip; restore path adds DirAvailable--var-lib-etcd
}

// KubeadmInitScript renders the kubeadm-init invocation from command-line
// flags only (node name, advertise address, pod and service CIDRs,
// Kubernetes version, --upload-certs and optional preflight skips). No
// config document is written or passed, so ServiceAccountIssuer,
// AuditPolicyPath and AuditLogMaxSizeMB are not applied.
func KubeadmInitScript(p InitParams) string {
	args := fmt.Sprintf(
		"--node-name %s --apiserver-advertise-address %s --pod-network-cidr %s --service-cidr %s --kubernetes-version %s --upload-certs",
		mustSafeLocal("init", p.NodeName),
		mustSafeLocal("init", p.AdvertiseAddress),
		mustSafeLocal("init", p.PodSubnet),
		mustSafeLocal("init", p.ServiceSubnet),
		mustSafeLocal("init", p.KubernetesVersion),
	)
	if p.IgnorePreflightErrors != "" {
		args += " --ignore-preflight-errors=" + mustSafeLocal("init", p.IgnorePreflightErrors)
	}
	return "kubeadm init " + args
}

// JoinParams describes a control-plane join (spec.md §4.3 "Join path").
type JoinParams struct {
	Endpoint      string
	Token         string
	CACertHash    string
	CertificateKey string
	NodeName      string
}

// KubeadmJoinScript renders the kubeadm-join invocation for an
// additional control-plane instance.
func KubeadmJoinScript(p JoinParams) string {
	return fmt.Sprintf(
		"kubeadm join %s --token %s --discovery-token-ca-cert-hash %s --control-plane --certificate-key %s --node-name %s",
		mustSafeLocal("join", p.Endpoint),
		mustSafeLocal("join", p.Token),
		mustSafeLocal("join", p.CACertHash),
		mustSafeLocal("join", p.CertificateKey),
		mustSafeLocal("join", p.NodeName),
	)
}

// KubeadmResetScript tears down a partially-joined or partially-initialized
// local node (spec.md §4.3 "Cleanup-on-failure": "invoke the local reset
// action ... always when past init").
func KubeadmResetScript() string {
	return "kubeadm reset --force"
}

// CACertHashScript computes the discovery CA cert hash used in join
// commands and written to the parameter registry.
func CACertHashScript() string {
	return `openssl x509 -pubkey -in /etc/kubernetes/pki/ca.crt | openssl rsa -pubin -outform der 2>/dev/null | openssl dgst -sha256 -hex | sed 's/^.* /sha256:/'`
}

// MintTokenScript mints a fresh bootstrap token locally (used on the
// initializing node, which already holds cluster credentials).
func MintTokenScript() string {
	return "kubeadm token create"
}

// UploadCertsScript re-uploads control-plane certs under a fresh
// certificate key, returning the key on stdout.
func UploadCertsScript() string {
	return "kubeadm init phase upload-certs --upload-certs | tail -n1"
}
