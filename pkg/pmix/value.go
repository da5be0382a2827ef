// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package pmix

// Well-known info keys used when registering a namespace, mirroring the
// PMIX_JOB_SIZE / PMIX_RANK / PMIX_LOCAL_RANK / PMIX_NODEID / PMIX_HOSTNAME
// attribute names a real libpmix.so would expect.
const (
	KeyJobSize   = "pmix.job.size"
	KeyHostname  = "pmix.hname"
	KeyNodeID    = "pmix.nodeid"
	KeyRank      = "pmix.rank"
	KeyLocalRank = "pmix.lrank"
)

// Value is a single typed PMIx attribute value. Unlike the C union
// pmix_value_t, which is built by an explicit tag/load call per type, Go's
// interface{} lets a single Value type hold any of the attribute kinds this
// bridge produces; the encoding discipline is enforced by the constructors
// below rather than by a type tag field.
type Value struct {
	data interface{}
}

// Uint32 wraps a uint32 attribute value.
func Uint32(v uint32) Value { return Value{data: v} }

// String wraps a string attribute value.
func String(v string) Value { return Value{data: v} }

// Uint32 returns the wrapped value as a uint32 and whether the wrapped type
// matched.
func (v Value) Uint32() (uint32, bool) {
	n, ok := v.data.(uint32)
	return n, ok
}

// StringValue returns the wrapped value as a string and whether the wrapped
// type matched.
func (v Value) StringValue() (string, bool) {
	s, ok := v.data.(string)
	return s, ok
}

// Info is a single (key, value, required) PMIx attribute record, as
// delivered in the info arrays passed to PMIx_server_register_nspace and
// inspected by the fence_nb/direct_modex callbacks.
type Info struct {
	Key      string
	Value    Value
	Required bool
}

// JobSizeInfo builds the global job-size attribute for a namespace.
func JobSizeInfo(size uint32) Info {
	return Info{Key: KeyJobSize, Value: Uint32(size)}
}

// HostnameInfo builds a per-node hostname attribute.
func HostnameInfo(hostname string) Info {
	return Info{Key: KeyHostname, Value: String(hostname)}
}

// NodeIDInfo builds a per-node or per-proc node-id attribute.
func NodeIDInfo(nodeRank uint32) Info {
	return Info{Key: KeyNodeID, Value: Uint32(nodeRank)}
}

// RankInfo builds a per-proc global-rank attribute.
func RankInfo(rank Rank) Info {
	return Info{Key: KeyRank, Value: Uint32(uint32(rank))}
}

// LocalRankInfo builds a per-proc local-rank attribute.
func LocalRankInfo(localRank uint32) Info {
	return Info{Key: KeyLocalRank, Value: Uint32(localRank)}
}
