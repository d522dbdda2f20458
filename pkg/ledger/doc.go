// Package ledger provides type-safe Go definitions and the durable Redis schema
// for the bingo experiment engine.
//
// # Overview
//
// The ledger is the system of record for three kinds of data:
//
// Experiments are named A/B tests with an ordered, weighted set of
// alternatives and the conversion names they listen for. Once created an
// experiment's alternatives and conversions never change; only its status
// moves from live to retired.
//
// Assignments map an identity to the alternative it was bucketed into for one
// experiment. An assignment is written at most once per (identity, experiment)
// pair and is never overwritten, which is what makes buckets sticky across
// requests and process restarts.
//
// Conversion events record that an enrolled identity reached a named goal.
// They are append-only.
//
// # Multi-Namespace Support
//
// All Redis keys and Pub/Sub channels are namespaced so several bingo
// deployments can share one Redis server without interfering.
//
// # Usage Example
//
//	import "github.com/dyluth/bingo/pkg/ledger"
//
//	client, err := ledger.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	alts, _ := ledger.ParseAlternatives([]byte(`{"red": 1, "blue": 1}`))
//	exp := &ledger.Experiment{
//		Name:            "button_color",
//		Alternatives:    alts,
//		ConversionNames: []string{"click"},
//		Status:          ledger.StatusLive,
//	}
//	if err := client.CreateExperiment(ctx, exp); err != nil {
//		log.Fatal(err)
//	}
//
//	winner, committed, err := client.Assign(ctx, "user-1", "button_color", `"red"`)
//
// # Redis Schema
//
// Experiments:        bingo:{namespace}:experiments (hash name -> JSON)
// Experiment status:  bingo:{namespace}:experiment_status (hash name -> status)
// Assignments:        bingo:{namespace}:assignments:{identity} (hash name -> alternative)
// Participants:       bingo:{namespace}:experiment:{name}:participants
// Conversions:        bingo:{namespace}:experiment:{name}:conversions
// Conversion events:  bingo:{namespace}:experiment:{name}:events (stream)
//
// Pub/Sub channel: bingo:{namespace}:conversion_events
package ledger
