package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func (s *ConfigTestSuite) TestVerifyConfig() {
	s.Require().NotNil(VerifyConfig(nil))

	config := DefaultConfig()
	s.Require().Nil(VerifyConfig(config))

	config.TickInterval = 0
	s.Require().NotNil(VerifyConfig(config))
	config.TickInterval = time.Second

	config.NextUpWarningLead = -time.Second
	s.Require().NotNil(VerifyConfig(config))
	config.NextUpWarningLead = 0
	s.Require().Nil(VerifyConfig(config))

	config.StalenessThreshold = 0
	s.Require().NotNil(VerifyConfig(config))
	config.StalenessThreshold = time.Hour

	config.PersistRetryInterval = 0
	s.Require().NotNil(VerifyConfig(config))
	config.PersistRetryInterval = 100 * time.Millisecond

	config.AsyncWorkers = 0
	s.Require().NotNil(VerifyConfig(config))
	config.AsyncWorkers = 2

	config.Now = nil
	s.Require().NotNil(VerifyConfig(config))
	config.Now = time.Now

	s.Require().Nil(VerifyConfig(config))
}

func (s *ConfigTestSuite) TestCreateControllerWithWrongConfig() {
	config := DefaultConfig()
	config.AsyncWorkers = -1
	c, err := NewController(config, nil, nil, nil)
	s.Require().NotNil(err)
	s.Require().Nil(c)
}

func (s *ConfigTestSuite) TestCreateControllerWithoutConfig() {
	c, err := NewController(nil, nil, nil, nil)
	s.Require().Nil(err)
	s.Require().NotNil(c)
	c.Close()
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
