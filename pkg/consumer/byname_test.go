package consumer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replicate/kdl/pkg/consumer"
)

func TestByName(t *testing.T) {
	cases := []struct {
		name string
		want interface{}
	}{
		{"", &consumer.FileWriter{}},
		{consumer.NameFile, &consumer.FileWriter{}},
		{consumer.NameNull, &consumer.NullWriter{}},
		{consumer.NameStdout, &consumer.StdoutConsumer{}},
		{consumer.NameVMSplice, &consumer.VMSpliceConsumer{}},
		{consumer.NameTar, &consumer.TarExtractor{}},
		{consumer.NameZip, &consumer.ZipExtractor{}},
	}
	for _, tc := range cases {
		c, err := consumer.ByName(tc.name)
		require.NoError(t, err)
		assert.IsType(t, tc.want, c)
	}
}

func TestByNameUnknown(t *testing.T) {
	_, err := consumer.ByName("something-nonexistent")
	assert.Error(t, err)
}
