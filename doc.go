// Package mongofiles stages multipart file uploads on local disk, commits
// them to MongoDB either as GridFS files or as single documents, and
// streams them back out.
//
// A Registry is created once at startup over a Staging area. Each call to
// Registry.Configure returns a Bucket; buckets configured under the same
// name share one store handle. Bucket.Stage reads a request into an
// Upload, Upload.Commit persists it, and Bucket.Download or
// Bucket.DownloadHandler serves it.
package mongofiles
