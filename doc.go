// Package upload drives resumable multipart asset uploads to a remote object
// store.
//
// One upload session covers every file of one asset. The client initializes
// the session against a transport (presigned S3 or a direct S3-compatible
// store), transfers parts under a global concurrency cap, tracks each file
// through a Queued -> In Progress -> Completed | Failed state machine, and
// finalizes the session once every file's part tokens are collected. Session
// state is persisted after every transition, so an interrupted upload can be
// resumed later without re-uploading completed files.
//
// A minimal session:
//
//	svc, err := s3presign.NewFromConfig(ctx, "asset-bucket")
//	if err != nil { ... }
//
//	files, err := enumerate.New(billy.NewOSFS("/")).Enumerate("/data/asset-42")
//	if err != nil { ... }
//
//	client, err := upload.New(svc, upload.WithStore(store))
//	if err != nil { ... }
//
//	session := upload.NewSession("asset-42", "db-1", "assets/42", files)
//	if err := client.Upload(ctx, session); err != nil { ... }
//
// After an interruption, re-enumerate the same selection, rebuild the session,
// and call Resume before Upload; completed files are skipped and everything
// else restarts from its first part.
package upload
