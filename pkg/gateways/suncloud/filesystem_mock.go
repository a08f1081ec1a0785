package suncloud

import "github.com/stretchr/testify/mock"

type fileManagementMock struct {
	mock.Mock
}

func (fm *fileManagementMock) writeCacheFile(path string, data []byte) error {
	args := fm.Called(path, data)
	return args.Error(0)
}
