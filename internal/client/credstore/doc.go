// Package credstore keeps credentials and tokens across two lifetimes.
//
// The session tier holds the access token, the raw service-account
// credential and the signed-in user for as long as the process runs. It is
// shared by every orchestrator built in the process and is how in-memory
// state lost to a rebuild gets recovered. The durable tier survives restarts
// and only ever receives PIN-encrypted blobs (plus the chosen record-store
// location, which is not secret).
//
// A Store is an explicit value; there is no package-level credential cache.
package credstore
