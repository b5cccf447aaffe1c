// Package lightswitch is the server-side Lightswitch SDK client.
//
// A Client connects to the flag service (streaming by default, polling as a
// fallback), keeps a local store of flag and segment definitions in sync, and
// evaluates flags for users entirely locally. Construct one shared Client per
// process with MakeClient and close it on shutdown.
package lightswitch

// Version is the SDK version, sent in the User-Agent header.
const Version = "1.0.0"
