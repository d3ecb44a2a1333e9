// Keyweave is the key selection and weight management service of a
// generative AI gateway.
//
// It spreads upstream calls across a pool of credentials by weight,
// enforces per-key rate limits, and tunes the weights from observed
// latency and success rates. Every weight change is written to an audit
// ledger and can be undone from a snapshot.
//
// Usage:
//
//	# Start the management API with the default configuration
//	keyweave run
//
//	# Start with a custom configuration file
//	keyweave run --config /etc/keyweave/config.yaml
//
//	# Check a configuration file
//	keyweave validate --config config.yaml
//
//	# List configured keys with masked credentials
//	keyweave keys list
//
//	# Query the audit ledger
//	keyweave audit query --key-id primary --since 24h
//
//	# Preview how traffic would spread over the configured weights
//	keyweave simulate --requests 10000
package main

func main() {
	Execute()
}
