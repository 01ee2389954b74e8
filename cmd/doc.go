// Package cmd defines and implements the CLI commands for the parlingest
// executable.
//
// Architecture overview:
//   - Discovery: internal/discover walks the portal's nested archive pages
//     with goquery and emits a descriptor per downloadable file; the
//     classifier derives logical type, legislature, and format from the file
//     stem ("IniciativasXV.xml", "OE2023").
//   - Ledger & scheduling: internal/ledger tracks every known file URL with
//     its content hash and status. internal/pipeline claims pending rows
//     through a bounded backlog and fans them out to a download pool and an
//     import pool; stale claims from crashed runs are reset at startup.
//   - Import: internal/importer stages each body in the configured blob store
//     (local/GCS/memory), skips unchanged content by hash, parses XML or
//     JSON into a generic document tree, validates per-family schema
//     expectations, and applies extracted rows in one transaction per file.
//   - Persistence & fanout: Postgres via pgx when database.dsn is set,
//     in-memory stores otherwise. Completed imports publish a compact notice
//     to Pub/Sub when configured. Progress events flow through a buffered
//     hub into log, Prometheus, and run-store sinks.
//   - Configuration & plumbing: Viper populates config from file and
//     PARLINGEST_* env; zap provides structured logging; Prometheus metrics
//     are exported through the ops server's /metrics endpoint.
//
// Operational notes:
//   - 'parlingest run' executes one acquisition run and exits; repeated runs
//     are incremental and idempotent. The ops server reports progress during
//     a run when server.port is non-zero.
//   - 'parlingest serve' runs the ops API alone, for deployments where runs
//     are scheduled out of band.
//   - Politeness: a per-host token bucket paces every portal request, and
//     transport failures back off exponentially with jitter. HTTP status
//     errors are not retried.
package cmd
