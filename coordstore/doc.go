// Package coordstore provides coordination store implementations behind
// the interfaces.CoordinationStore contract.
//
// The coordination store is the single shared mutable surface of the
// dispatch core: the distributed lock keys, the per-device task queues,
// and the per-device notification channels all live in it. Two
// implementations exist:
//
//   - RedisStore maps each primitive onto one Redis command
//     (SET NX EX, GET, DEL, RPUSH, LPOP, LINDEX, LLEN, PUBLISH,
//     SUBSCRIBE), so atomicity holds across server instances.
//   - MemoryStore provides the same semantics in-process under a single
//     mutex, for tests, the devicectl simulator, and single-node runs.
//
// Stores are created from URIs via StoreFactory:
//
//	redis://:password@redis.example.com:6379/0
//	memory://
package coordstore
