package engine

// Combine folds the verified shard cleartexts into the reconstructed value
// with bitwise exclusive-or. The fold is commutative and associative, so the
// result does not depend on verification order, and the empty set combines
// to 0. The threshold is a counting gate over this fold, not a cryptographic
// reconstruction scheme; the secret-sharing strength lives in the external
// encryption and proof layer.
func Combine(values []uint64) uint64 {
	var out uint64
	for _, v := range values {
		out ^= v
	}
	return out
}
