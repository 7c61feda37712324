package consumer_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/replicate/kdl/pkg/consumer"
)

func TestNullWriterConsumeRemovesSource(t *testing.T) {
	r := require.New(t)
	src := writeTempSource(t, generateTestContent(kB))

	nullConsumer := consumer.NullWriter{}
	r.NoError(nullConsumer.Consume(src, ""))

	_, err := os.Stat(src)
	r.True(os.IsNotExist(err))
}
