// Package publish streams dispatch trace records to Redis.
//
// A Publisher is an engine.Observer. For every dispatch it:
//   - publishes the record as JSON on cascade:{namespace}:events
//   - appends the JSON to the flow list cascade:{namespace}:flow:{token}
//   - writes the instance's latest seq, event and state hash to the hash
//     cascade:{namespace}:instance:{component}:{id}
//
// Pub/Sub delivery is at-most-once; the flow lists are the durable copy and
// expire after the configured TTL (no expiry by default).
package publish
