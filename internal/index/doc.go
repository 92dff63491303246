// Package index implements the subscription index answering "which sessions
// are interested in this event".
//
// One inverted index per criteria dimension (symbol, category, tier,
// confidence bucket), each partitioned into lock-guarded shards so unrelated
// keys never contend. Matching intersects the per-dimension candidate sets
// starting from the smallest one, then verifies each survivor against its
// stored criteria so results are exact rather than a bucket-level superset.
package index
