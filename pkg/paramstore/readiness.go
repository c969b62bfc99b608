package paramstore

// RequiredForJoin lists the parameter keys that must be present and
// not a placeholder before a joiner may proceed (spec.md §4.3 join path).
var RequiredForJoin = []string{
	KeyInitialized,
	KeyEndpoint,
	KeyJoinToken,
	KeyCACertHash,
	KeyCertificateKey,
}

// ReadyForJoin reports whether every required key in params is set and
// cluster/initialized is "true".
func ReadyForJoin(params map[string]string) bool {
	if params[KeyInitialized] != "true" {
		return false
	}
	for _, key := range RequiredForJoin {
		if IsUnset(params[key]) {
			return false
		}
	}
	return true
}
