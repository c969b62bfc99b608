// Package etcdid converts etcd's 64-bit member ids between their decimal
// (wire/API) and hex (member-record storage key, spec.md §3) forms.
package etcdid

import (
	"fmt"
	"strconv"
)

// ToHex converts a decimal etcd member id (as returned by `etcdctl member
// list`, or go.etcd.io/etcd/client/v3) to its hex string form, matching
// the member-record invariant in spec.md §3: "member id is the hex form
// of etcd's 64-bit id; decimal<->hex conversion is exact."
func ToHex(decimal uint64) string {
	return strconv.FormatUint(decimal, 16)
}

// FromHex converts a hex member id back to its decimal form. Returns an
// error if s is not a valid hex-encoded uint64.
func FromHex(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing etcd member id %q as hex: %w", s, err)
	}
	return v, nil
}
