package forwarder

import (
	"github.com/stretchr/testify/mock"
)

type MockForwarder struct {
	mock.Mock
	Forwarder
}

func (mf *MockForwarder) SendMessage(transactionID string, originSystem string, headers map[string]string, event CurationEvent) error {
	args := mf.Called(transactionID, originSystem, headers, event)
	return args.Error(0)
}
