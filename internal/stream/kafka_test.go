package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaReaderFactory(t *testing.T) {
	factory := NewKafkaReaderFactory(KafkaConfig{Brokers: []string{"127.0.0.1:9193"}}, testLogger())

	reader, err := factory("Top1")
	require.NoError(t, err)
	require.NotNil(t, reader)
	assert.NoError(t, reader.Close())
}

func TestKafkaReaderFactory_RequiresBrokers(t *testing.T) {
	factory := NewKafkaReaderFactory(KafkaConfig{}, nil)

	_, err := factory("Top1")
	assert.ErrorContains(t, err, "invalid broker configuration")
}
