package domain

type Compressor interface {
	// CompressFile writes path+".gz" and returns its location.
	CompressFile(path string) (string, error)
	DecompressFile(sourcePath, destPath string) error
}
