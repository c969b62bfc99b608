// Package scripts curates the shell bodies the bootstrap coordinator,
// etcd lifecycle manager, and backup loop ship through remoteexec.Adapter.
// Every body is built from a typed request struct — never raw string
// concatenation of caller-controlled values — so the only variable
// content entering a shell is a value this package has validated or
// quoted itself.
package scripts

import (
	"fmt"
	"regexp"
)

// hostnameLike matches instance ids, hostnames, etcd hex member ids, file
// paths and peer URLs: conservative enough to reject shell metacharacters
// outright.
var hostnameLike = regexp.MustCompile(`^[A-Za-z0-9.\-_:/]+$`)

func mustSafe(op, val string) string {
	if val == "" || !hostnameLike.MatchString(val) {
		panic(fmt.Sprintf("scripts: %s: unsafe value %q", op, val))
	}
	return val
}

// DrainRequest parameterizes the node-drain body (spec.md §4.4 step 3).
type DrainRequest struct {
	NodeName     string
	GracePeriod  int // seconds
	Timeout      int // seconds
}

// Drain returns a kubectl drain invocation matching spec.md's exact
// flags: ignore-daemonsets, delete-emptydir-data, force.
func Drain(r DrainRequest) string {
	node := mustSafe("drain", r.NodeName)
	return fmt.Sprintf(
		"kubectl drain %s --grace-period=%d --timeout=%ds --ignore-daemonsets --delete-emptydir-data --force",
		node, r.GracePeriod, r.Timeout,
	)
}

// MemberHealthCheck returns a body that verifies the local etcd
// endpoint is healthy, in JSON form for structured parsing.
func MemberHealthCheck() string {
	return "ETCDCTL_API=3 etcdctl endpoint health --write-out=json"
}

// MemberList returns a body that enumerates the current etcd membership
// as JSON. The bootstrap coordinator runs it locally to resolve its own
// member id; member removal does not use it.
func MemberList() string {
	return "ETCDCTL_API=3 etcdctl member list --write-out=json"
}

// MemberRemoveRequest parameterizes member removal.
type MemberRemoveRequest struct {
	HexMemberID string // spec.md §4.4: "run etcdctl member remove <hex id>"
}

// MemberRemove returns the member-removal body. "member not found" in
// stderr is the caller's signal to treat this as idempotent success.
func MemberRemove(r MemberRemoveRequest) string {
	id := mustSafe("member-remove", r.HexMemberID)
	return fmt.Sprintf("ETCDCTL_API=3 etcdctl member remove %s", id)
}

// TokenGenRequest parameterizes the token + certificate-key minting
// protocol run on an existing control-plane peer (spec.md §4.3.1).
type TokenGenRequest struct {
	CertKeyTTL string // e.g. "2h0m0s", passed to --certificate-key-ttl-less tooling if needed
}

// TokenGen returns a body that mints a new bootstrap token and uploads a
// fresh certificate key, emitting both as a single JSON line on stdout
// so the caller can parse {token, certKey} without scraping prose.
func TokenGen(TokenGenRequest) string {
	return `set -e
TOKEN=$(kubeadm token create)
CERTKEY=$(kubeadm init phase upload-certs --upload-certs | tail -n1)
printf '{"token":"%s","certKey":"%s"}\n' "$TOKEN" "$CERTKEY"`
}

// SnapshotSaveRequest parameterizes the etcd snapshot-save body.
type SnapshotSaveRequest struct {
	LocalPath string
}

// SnapshotSave returns a body that saves an etcd snapshot to a local
// path (spec.md §4.5).
func SnapshotSave(r SnapshotSaveRequest) string {
	path := mustSafe("snapshot-save", r.LocalPath)
	return fmt.Sprintf("ETCDCTL_API=3 etcdctl snapshot save %s", path)
}

// SnapshotStatusRequest parameterizes the snapshot-status query.
type SnapshotStatusRequest struct {
	LocalPath string
}

// SnapshotStatus returns a body that queries a saved snapshot's
// {hash, revision, totalKey, totalSize} in structured JSON form, used
// to assert hash != 0 before upload (spec.md §4.5).
func SnapshotStatus(r SnapshotStatusRequest) string {
	path := mustSafe("snapshot-status", r.LocalPath)
	return fmt.Sprintf("ETCDCTL_API=3 etcdctl snapshot status %s --write-out=json", path)
}

// SnapshotCleanupRequest parameterizes local snapshot-file deletion
// after a successful upload.
type SnapshotCleanupRequest struct {
	LocalPath string
}

// SnapshotCleanup returns a body that deletes the local snapshot file.
func SnapshotCleanup(r SnapshotCleanupRequest) string {
	path := mustSafe("snapshot-cleanup", r.LocalPath)
	return fmt.Sprintf("rm -f %s", path)
}

// SnapshotReadRequest parameterizes the snapshot-transfer body: the
// backup loop has no direct filesystem access to the remote instance,
// so the snapshot bytes travel home on stdout, base64-encoded, the same
// way the source's other SSM-invocation steps only ever move text.
type SnapshotReadRequest struct {
	LocalPath string
}

// SnapshotRead returns a body that emits the saved snapshot file as a
// single base64 blob on stdout, for the backup loop to decode and hand
// to objectstore.Store.Put (spec.md §4.5's "upload the file").
func SnapshotRead(r SnapshotReadRequest) string {
	path := mustSafe("snapshot-read", r.LocalPath)
	return fmt.Sprintf("base64 -w0 %s", path)
}

// RestoreRequest parameterizes the offline disaster-recovery restore
// body (spec.md §4.3.2): restore into a fresh data directory with
// cluster name = local hostname and a single-member initial cluster.
type RestoreRequest struct {
	SnapshotPath string
	DataDir      string
	Name         string // local hostname, used as the sole initial member name
	InitialAdvertisePeerURL string
}

// Restore returns the offline-restore body.
func Restore(r RestoreRequest) string {
	snap := mustSafe("restore", r.SnapshotPath)
	dataDir := mustSafe("restore", r.DataDir)
	name := mustSafe("restore", r.Name)
	peerURL := mustSafe("restore", r.InitialAdvertisePeerURL)
	return fmt.Sprintf(
		"ETCDCTL_API=3 etcdctl snapshot restore %s --name %s --initial-cluster %s=%s --initial-advertise-peer-urls %s --data-dir %s",
		snap, name, name, peerURL, peerURL, dataDir,
	)
}
