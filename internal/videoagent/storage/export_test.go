package storage

var (
	IsMinIOPreconditionFailed = isMinIOPreconditionFailed
	IsGCSPreconditionFailed   = isGCSPreconditionFailed
)
