// Package cli provides the interactive plotroom command-line client.
//
// It wires configuration, the REST API client and the realtime stream into
// a small REPL. Typical flow: log in, watch a project room and send
// collaboration events while presence and relayed events are printed as
// they arrive.
//
// The REPL is started via App.Root(ctx), which blocks until the user exits.
package cli
