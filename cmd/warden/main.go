// Warden is a telemetry policy evaluation and tamper-evident audit runtime.
//
// It evaluates telemetry events against declarative policies, synthesizes
// deduplicated violations with forensic evidence, and maintains a
// hash-chained, signed audit log whose records can never be rewritten.
//
// Usage:
//
//	# Start the evaluation daemon
//	warden run --config /etc/warden/warden.yaml
//
//	# Append events from a JSON stream
//	warden ingest --file events.json
//
//	# Evaluate the unprocessed backlog once
//	warden evaluate --limit 100
//
//	# Verify the signature chains
//	warden verify
//
//	# Re-sign all chains under a new key
//	warden rotate-keys --new-hmac-key <secret> --new-key-version v2
//
//	# Export evidence records
//	warden export --format csv --out evidence.csv
package main

func main() {
	Execute()
}
