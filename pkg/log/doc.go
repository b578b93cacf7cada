/*
Package log provides structured logging for Meridian using zerolog.

All logs include a timestamp and an optional component field, and route
through a single global Logger configured once at process startup via
Init. Component packages derive child loggers with WithComponent (and the
node/shard/txn/region variants) rather than writing to Logger directly, so
that a line from the consensus engine can be told apart from one raised by
the saga orchestrator without parsing the message text.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	consensusLog := log.WithComponent("consensus").With().Uint64("term", term).Logger()
	consensusLog.Info().Str("node_id", nodeID).Msg("became leader")

Before Init runs, Logger is the zerolog zero value, which has no output
writer and discards every event; nothing is logged until Init is called.
*/
package log
