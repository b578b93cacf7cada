// Package api implements Meridian's external interface over JSON/HTTP
// (spec.md §6 leaves the wire protocol unfixed; Meridian picks JSON over
// net/http rather than the teacher's gRPC/protobuf stack, since the
// generated .pb.go bindings the teacher's handlers depend on are not
// reproducible without running protoc — see DESIGN.md). Server exposes
// one handler per operation in the external interface table, grounded on
// the teacher's pkg/api.HealthServer net/http + ServeMux shape, plus
// /health and /ready handlers backed by pkg/metrics's HealthChecker.
// Consensus peer traffic travels over pkg/consensus's own raft
// transport, not this HTTP surface.
package api
