package filesystem

const (
	// TemporaryNamePrefix is the file name prefix used for all temporary files
	// and directories created during encoding and chunk storage. It may be
	// suffixed with additional elements if desired.
	TemporaryNamePrefix = ".chunkarchive-temporary-"
)
